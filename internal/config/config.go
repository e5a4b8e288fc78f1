package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/ravenhall/lodestar/internal/journal"
)

// SnapshotConfig controls when the journal writes full-state snapshots.
type SnapshotConfig struct {
	EveryEvents  int `mapstructure:"every_events"`
	EveryMinutes int `mapstructure:"every_minutes"`
}

// Config holds all runtime configuration for a lodestar session.
// Values are populated from .lodestar.yaml, LODESTAR_* env vars, and CLI flags.
type Config struct {
	ProjectFile     string         `mapstructure:"project_file"`
	JournalPath     string         `mapstructure:"journal_path"`
	TelemetryPath   string         `mapstructure:"telemetry_path"`
	ProjectStart    string         `mapstructure:"project_start"`
	HistoryLimit    int            `mapstructure:"history_limit"`
	WatchDebounceMS int            `mapstructure:"watch_debounce_ms"`
	Verbose         bool           `mapstructure:"verbose"`
	Snapshot        SnapshotConfig `mapstructure:"snapshot"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	viper.SetDefault("project_file", "project.toml")
	viper.SetDefault("journal_path", ".lodestar/journal.db")
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("project_start", "")
	viper.SetDefault("history_limit", 100)
	viper.SetDefault("watch_debounce_ms", 250)
	viper.SetDefault("verbose", false)
	viper.SetDefault("snapshot.every_events", 200)
	viper.SetDefault("snapshot.every_minutes", 10)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// SnapshotPolicy converts the snapshot settings into the journal's policy.
func (c Config) SnapshotPolicy() journal.SnapshotPolicy {
	return journal.SnapshotPolicy{
		EveryEvents:   c.Snapshot.EveryEvents,
		EveryDuration: time.Duration(c.Snapshot.EveryMinutes) * time.Minute,
	}
}

// WatchDebounce returns the file-watcher debounce window.
func (c Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMS) * time.Millisecond
}
