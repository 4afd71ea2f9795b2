package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "OI", cfg.Serial.Protocol)
	assert.Equal(t, 500, cfg.Poll.PauseMs)
	assert.Equal(t, 0, cfg.Poll.PacketCode)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Empty(t, cfg.Record.Path)
	assert.False(t, cfg.Serial.WaitForDSR)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, "OI", cfg.Serial.Protocol)
	assert.Equal(t, 500, cfg.Poll.PauseMs)
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roombadash.yaml")
	yaml := `
serial:
  comport: /dev/ttyUSB0
  protocol: SCI
  wait_for_dsr: true
poll:
  pause_ms: 250
  packet_code: 3
record:
  path: /tmp/run.csv
server:
  listen_addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg := LoadConfig(path)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Comport)
	assert.Equal(t, "SCI", cfg.Serial.Protocol)
	assert.True(t, cfg.Serial.WaitForDSR)
	assert.Equal(t, 250, cfg.Poll.PauseMs)
	assert.Equal(t, 3, cfg.Poll.PacketCode)
	assert.Equal(t, "/tmp/run.csv", cfg.Record.Path)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
}

func TestLoadConfigBadYAMLFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial: ["), 0644))

	cfg := LoadConfig(path)
	assert.Equal(t, 500, cfg.Poll.PauseMs, "broken YAML means defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROOMBA_COMPORT", "/dev/ttyACM1")
	t.Setenv("ROOMBA_PROTOCOL", "SCI")
	t.Setenv("ROOMBA_PAUSE_MS", "123")
	t.Setenv("ROOMBA_WAIT_FOR_DSR", "true")
	t.Setenv("LISTEN_ADDR", ":7070")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.Comport)
	assert.Equal(t, "SCI", cfg.Serial.Protocol)
	assert.Equal(t, 123, cfg.Poll.PauseMs)
	assert.True(t, cfg.Serial.WaitForDSR)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
}

func TestEnvOverrideBadNumberIgnored(t *testing.T) {
	t.Setenv("ROOMBA_PAUSE_MS", "soon")
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, 500, cfg.Poll.PauseMs)
}

func TestUpdateFromJSONDeepMerges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Serial.Comport = "/dev/ttyUSB0"

	require.NoError(t, cfg.UpdateFromJSON([]byte(`{"poll":{"pauseMs":150}}`)))

	assert.Equal(t, 150, cfg.Poll.PauseMs, "patched field applied")
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Comport, "untouched fields preserved")
	assert.Equal(t, "OI", cfg.Serial.Protocol)

	assert.Error(t, cfg.UpdateFromJSON([]byte(`{`)))
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")

	cfg := LoadConfig(path)
	cfg.Serial.Comport = "COM5"
	cfg.Poll.PauseMs = 321
	require.NoError(t, cfg.Save())

	again := LoadConfig(path)
	assert.Equal(t, "COM5", again.Serial.Comport)
	assert.Equal(t, 321, again.Poll.PauseMs)
}
