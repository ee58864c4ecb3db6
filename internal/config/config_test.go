package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/cellrope"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cellrope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
client_id: desk-1
store:
  driver: sqlite
  path: /var/lib/cellrope/cells.db
relay:
  url: ws://relay.internal:8470
log:
  level: debug
  format: json
maintenance:
  interval: 90s
`)
	t.Setenv("CELLROPE_STORE_DRIVER", "badger")
	t.Setenv("CELLROPE_STORE_PATH", "/data/badger")
	t.Setenv("CELLROPE_MAINTENANCE_INTERVAL", "5m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", cfg.ClientID)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.Equal(t, "/data/badger", cfg.Store.Path)
	assert.Equal(t, "ws://relay.internal:8470", cfg.Relay.URL)
	assert.Equal(t, ":8470", cfg.Relay.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5*time.Minute, cfg.Maintenance.Interval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store: {driver: etcd}"},
		{"missing path", "store: {driver: badger, path: ''}"},
		{"bad level", "log: {level: loud}"},
		{"bad format", "log: {format: xml}"},
		{"negative interval", "maintenance: {interval: -1s}"},
		{"http relay", "relay: {url: 'http://x'}"},
		{"not yaml", "store: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("CELLROPE_MAINTENANCE_INTERVAL", "soon")
	_, err := Load("")
	require.ErrorContains(t, err, "parse env")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "matrix", "m")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"matrix":"m"`)

	_, err = NewLogger(LogConfig{Level: "info", Format: "xml"}, &buf)
	require.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []StoreConfig{
		{Driver: DriverMemory},
		{Driver: DriverFile, Path: filepath.Join(dir, "files")},
		{Driver: DriverBadger, Path: filepath.Join(dir, "badger")},
		{Driver: DriverSQLite, Path: filepath.Join(dir, "cells.db")},
	}
	for _, sc := range tests {
		t.Run(sc.Driver, func(t *testing.T) {
			store, err := OpenStore(sc, nil)
			require.NoError(t, err)
			defer store.Close()
			_, ok := store.(cellrope.OpLog)
			assert.True(t, ok)
		})
	}

	_, err := OpenStore(StoreConfig{Driver: "etcd"}, nil)
	require.Error(t, err)
}
