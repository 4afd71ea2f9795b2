package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartroomba/roombadash/internal/server"
	"github.com/smartroomba/roombadash/internal/transport"
)

func TestParsePause(t *testing.T) {
	assert.Equal(t, 250, parsePause("250", 500))
	assert.Equal(t, 0, parsePause("0", 500))
	assert.Equal(t, 500, parsePause("soon", 500), "non-numeric input falls back")
	assert.Equal(t, 500, parsePause("-10", 500), "negative input falls back")
	assert.Equal(t, 750, parsePause("oops", 750), "fallback is the configured value")
}

func TestChooseBackend(t *testing.T) {
	resetFlags := func() {
		flagDemo = false
		flagPlayback = ""
	}
	defer resetFlags()

	cfg := server.DefaultConfig()

	resetFlags()
	cfg.Serial.Comport = "/dev/ttyUSB0" // does not exist as a regular file
	kind, target := chooseBackend(cfg)
	assert.Equal(t, transport.Live, kind)
	assert.Equal(t, "/dev/ttyUSB0", target)

	// An existing regular file given as the comport replays as a
	// recording.
	rec := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, os.WriteFile(rec, []byte("timestamp,packet_code,raw_hex\n"), 0644))
	cfg.Serial.Comport = rec
	kind, target = chooseBackend(cfg)
	assert.Equal(t, transport.Playback, kind)
	assert.Equal(t, rec, target)

	// Explicit flags beat the heuristic.
	resetFlags()
	flagPlayback = "other.csv"
	cfg.Serial.Comport = "/dev/ttyUSB0"
	kind, target = chooseBackend(cfg)
	assert.Equal(t, transport.Playback, kind)
	assert.Equal(t, "other.csv", target)

	resetFlags()
	flagDemo = true
	kind, target = chooseBackend(cfg)
	assert.Equal(t, transport.Playback, kind)
	assert.Equal(t, "demo", target)
}

func TestOpenRecorder(t *testing.T) {
	assert.Nil(t, openRecorder(""), "empty path disables recording")

	rec := openRecorder(filepath.Join(t.TempDir(), "out.csv"))
	require.NotNil(t, rec)
	require.NoError(t, rec.Close())

	// An unwritable path degrades to no recording instead of aborting.
	assert.Nil(t, openRecorder(filepath.Join(t.TempDir(), "missing", "out.csv")))
}
