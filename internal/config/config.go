// Package config loads the runtime configuration file. Configuration
// covers the host-side knobs (frame rate, checked mode, archive path,
// logging); everything about a patch's behavior lives in the patch
// document itself.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full runtime configuration.
type Config struct {
	Engine EngineConfig `toml:"engine"`
	Store  StoreConfig  `toml:"store"`
	Log    LogConfig    `toml:"log"`
}

// EngineConfig controls the frame loop.
type EngineConfig struct {
	// FPS is the fixed frame rate run and replay advance at.
	FPS float64 `toml:"fps"`

	// Checked enables runtime invariant checking.
	Checked bool `toml:"checked"`

	// SnapshotEveryFrames checkpoints run state at this interval; zero
	// disables checkpointing.
	SnapshotEveryFrames int `toml:"snapshot_every_frames"`
}

// StoreConfig locates the program archive.
type StoreConfig struct {
	Path string `toml:"path"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Engine: EngineConfig{FPS: 60},
		Store:  StoreConfig{Path: "strand.db"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a TOML config file over the defaults. Keys absent from the
// file keep their default values; unknown keys are an error so typos
// surface instead of silently falling back.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Engine.FPS <= 0 {
		return fmt.Errorf("engine.fps must be positive, got %v", c.Engine.FPS)
	}
	if c.Engine.SnapshotEveryFrames < 0 {
		return fmt.Errorf("engine.snapshot_every_frames must be >= 0, got %d", c.Engine.SnapshotEveryFrames)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	return nil
}

// DtMs returns the per-frame time step the configured rate implies.
func (c EngineConfig) DtMs() float64 {
	return 1000 / c.FPS
}

// SlogLevel maps the configured level name onto slog.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch l.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
}

// NewLogger builds the process logger from the log section.
func NewLogger(l LogConfig) (*slog.Logger, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if l.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}
