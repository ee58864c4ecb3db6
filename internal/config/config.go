// Package config loads cellrope's command configuration from defaults, an
// optional YAML file and CELLROPE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/phroun/cellrope"
	"github.com/phroun/cellrope/storage/badgerstore"
	"github.com/phroun/cellrope/storage/sqlitestore"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CELLROPE_"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Config is the full command configuration.
type Config struct {
	// ClientID is stamped on local ops. Empty picks a random id per process.
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`

	Store       StoreConfig       `yaml:"store" envPrefix:"STORE_"`
	Relay       RelayConfig       `yaml:"relay" envPrefix:"RELAY_"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
	Maintenance MaintenanceConfig `yaml:"maintenance" envPrefix:"MAINTENANCE_"`
}

// StoreConfig selects the snapshot store.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is a directory for file and badger, a database file for sqlite.
	Path string `yaml:"path" env:"PATH"`
}

// RelayConfig configures the websocket relay and clients of it.
type RelayConfig struct {
	// Listen is the relay server address.
	Listen string `yaml:"listen" env:"LISTEN"`
	// URL is the ws:// base URL clients attach through. Empty keeps matrices
	// local.
	URL string `yaml:"url" env:"URL"`
	// SendBuffer is the relay's per-connection queue length.
	SendBuffer int `yaml:"send_buffer" env:"SEND_BUFFER"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MaintenanceConfig configures background compaction.
type MaintenanceConfig struct {
	// Interval between compaction passes. Zero disables the worker.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver: DriverFile,
			Path:   "cellrope-data",
		},
		Relay: RelayConfig{
			Listen:     ":8470",
			SendBuffer: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Maintenance: MaintenanceConfig{
			Interval: time.Minute,
		},
	}
}

// Load merges the file at path (optional, may be empty or missing) and the
// environment over Default, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverBadger, DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Maintenance.Interval < 0 {
		return fmt.Errorf("maintenance.interval must be >= 0")
	}
	if c.Relay.SendBuffer < 0 {
		return fmt.Errorf("relay.send_buffer must be >= 0")
	}
	if c.Relay.URL != "" && !strings.HasPrefix(c.Relay.URL, "ws://") && !strings.HasPrefix(c.Relay.URL, "wss://") {
		return fmt.Errorf("relay.url must start with ws:// or wss://, got %q", c.Relay.URL)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds a slog logger writing to w.
func NewLogger(c LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
}

// OpenStore opens the configured snapshot store. Every driver also
// implements cellrope.OpLog.
func OpenStore(c StoreConfig, logger *slog.Logger) (cellrope.SnapshotStore, error) {
	var (
		store cellrope.SnapshotStore
		err   error
	)
	switch c.Driver {
	case DriverMemory:
		store = cellrope.NewMemoryStore()
	case DriverFile:
		store, err = openFile(c.Path)
	case DriverBadger:
		bc := badgerstore.DefaultConfig(c.Path)
		bc.Logger = logger
		store, err = openBadger(bc)
	case DriverSQLite:
		store, err = openSQLite(c.Path)
	default:
		err = fmt.Errorf("unknown store driver %q", c.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", c.Driver, err)
	}
	return store, nil
}

func openFile(path string) (cellrope.SnapshotStore, error) {
	s, err := cellrope.NewFileStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openBadger(cfg badgerstore.Config) (cellrope.SnapshotStore, error) {
	s, err := badgerstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openSQLite(path string) (cellrope.SnapshotStore, error) {
	s, err := sqlitestore.Open(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
