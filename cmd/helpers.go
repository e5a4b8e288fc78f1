package cmd

import (
	"fmt"
	"time"

	"github.com/ravenhall/lodestar/internal/calendar"
	"github.com/ravenhall/lodestar/internal/config"
	"github.com/ravenhall/lodestar/internal/engine"
	"github.com/ravenhall/lodestar/internal/projfile"
	"github.com/ravenhall/lodestar/internal/task"
	"github.com/ravenhall/lodestar/internal/telemetry"
)

// loadProject resolves the project file from the positional arg or config and
// loads it. Returns the state, the project name, and the effective config.
func loadProject(args []string) (config.Config, *task.State, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	path := projectPath(cfg, args)
	state, name, err := projfile.Load(path)
	if err != nil {
		return config.Config{}, nil, "", err
	}
	if name == "" {
		name = path
	}
	return cfg, state, name, nil
}

// projectPath resolves the project file from the positional arg or config.
func projectPath(cfg config.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.ProjectFile
}

// engineOptions builds recalculation options from config. An unset or
// malformed project_start falls back to today.
func engineOptions(cfg config.Config) (engine.Options, error) {
	opts := engine.Options{}
	if cfg.ProjectStart != "" {
		start, err := time.Parse(calendar.DateKey, cfg.ProjectStart)
		if err != nil {
			return opts, fmt.Errorf("invalid project_start %q: %w", cfg.ProjectStart, err)
		}
		opts.ProjectStart = start
	}
	return opts, nil
}

// newEmitter opens the telemetry sink if one is configured. A nil emitter is
// a valid no-op.
func newEmitter(cfg config.Config) *telemetry.Emitter {
	if cfg.TelemetryPath == "" {
		return nil
	}
	em, err := telemetry.NewEmitter(cfg.TelemetryPath)
	if err != nil {
		return nil
	}
	return em
}
