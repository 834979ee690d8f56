package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_Overlay(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/cu.usbserial-1410
engine:
  buffer_size: 120
  poll_interval: 100ms
toolpath:
  threshold: 180
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/cu.usbserial-1410", cfg.Serial.Port)
	assert.Equal(t, 120, cfg.Engine.BufferSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.PollInterval.Std())
	assert.Equal(t, 180, cfg.Toolpath.Threshold)
	assert.Equal(t, "debug", cfg.Log.Level)

	// untouched fields keep their defaults
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, 10*time.Second, cfg.Engine.CommandTimeout.Std())
	assert.Equal(t, ":9091", cfg.HTTP.Addr)
	assert.True(t, cfg.Toolpath.ZigZag)
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "engine:\n  poll_interval: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
