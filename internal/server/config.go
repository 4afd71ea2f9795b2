package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all roombadash configuration. Values come from YAML, then
// .env / environment overrides, then CLI flags layered on top.
type Config struct {
	mu sync.RWMutex

	Serial SerialConfig `yaml:"serial" json:"serial"`
	Poll   PollConfig   `yaml:"poll" json:"poll"`
	Record RecordConfig `yaml:"record" json:"record"`
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	Comport         string `yaml:"comport" json:"comport"`                   // e.g. /dev/ttyUSB0 or COM3
	Protocol        string `yaml:"protocol" json:"protocol"`                 // "SCI" or "OI"
	WaitForDSR      bool   `yaml:"wait_for_dsr" json:"waitForDsr"`           // hardware handshake before use
	FlushAfterWrite bool   `yaml:"flush_after_write" json:"flushAfterWrite"` // drain after every write
	Wakeup          bool   `yaml:"wakeup" json:"wakeup"`                     // toggle DTR before handshake
}

type PollConfig struct {
	PauseMs    int `yaml:"pause_ms" json:"pauseMs"`       // delay between sensor requests
	PacketCode int `yaml:"packet_code" json:"packetCode"` // sensor packet requested each cycle
}

type RecordConfig struct {
	Path string `yaml:"path" json:"path"` // CSV output path; empty disables recording
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Protocol: "OI",
		},
		Poll: PollConfig{
			PauseMs:    500,
			PacketCode: 0,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Real env takes precedence over .env entries
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: ROOMBA_COMPORT, ROOMBA_PROTOCOL, ROOMBA_WAIT_FOR_DSR,
// ROOMBA_PAUSE_MS, ROOMBA_PACKET_CODE, ROOMBA_RECORD, LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ROOMBA_COMPORT"); v != "" {
		c.Serial.Comport = v
	}
	if v := os.Getenv("ROOMBA_PROTOCOL"); v != "" {
		c.Serial.Protocol = v
	}
	if v := os.Getenv("ROOMBA_WAIT_FOR_DSR"); v != "" {
		c.Serial.WaitForDSR = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("ROOMBA_PAUSE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Poll.PauseMs = n
		}
	}
	if v := os.Getenv("ROOMBA_PACKET_CODE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Poll.PacketCode = n
		}
	}
	if v := os.Getenv("ROOMBA_RECORD"); v != "" {
		c.Record.Path = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return nil
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
