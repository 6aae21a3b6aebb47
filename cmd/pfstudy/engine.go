package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/config"
	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/engine/bridge"
	"github.com/nvandessel/pfstudy/internal/engine/memory"
	"github.com/nvandessel/pfstudy/internal/logging"
)

// Engine kinds.
const (
	engineMemory = "memory"
	engineBridge = "bridge"
)

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger writes operational logs to the command's stderr.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// openEngine connects to the configured engine. A relative network file
// is resolved against root.
func openEngine(cfg *config.Config, root string) (engine.Engine, error) {
	switch cfg.Engine.Kind {
	case "", engineMemory:
		spec, err := loadNetwork(cfg.Engine.Network, root)
		if err != nil {
			return nil, err
		}
		return memory.New(spec), nil
	case engineBridge:
		c, err := bridge.New(bridge.Config{
			URL:     cfg.Engine.URL,
			Token:   cfg.Engine.Token,
			Timeout: cfg.Engine.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Engine.Kind)
	}
}

func loadNetwork(path, root string) (*memory.NetworkSpec, error) {
	if path == "" {
		return memory.ExampleNetwork()
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	spec, err := memory.LoadNetwork(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load network %s: %w", path, err)
	}
	return spec, nil
}

// engineFactory adapts openEngine to the MCP server's factory type.
func engineFactory(cfg *config.Config, root string) func(context.Context) (engine.Engine, error) {
	return func(context.Context) (engine.Engine, error) {
		return openEngine(cfg, root)
	}
}

// activeEngine opens the engine and activates the configured project.
// The caller closes the engine.
func activeEngine(ctx context.Context, cfg *config.Config, root string) (engine.Engine, error) {
	eng, err := openEngine(cfg, root)
	if err != nil {
		return nil, err
	}
	p := projectOf(cfg)
	if err := eng.Activate(ctx, p); err != nil {
		eng.Close()
		return nil, fmt.Errorf("activate project %s: %w", p.Path(), err)
	}
	return eng, nil
}

func projectOf(cfg *config.Config) engine.Project {
	return engine.Project{
		Folder:    cfg.Project.Folder,
		Name:      cfg.Project.Name,
		StudyCase: cfg.Project.StudyCase,
	}
}

// resolvePath joins a relative path to root.
func resolvePath(path, root string) string {
	if path == "-" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// createOutput creates path and its parent directory. "-" writes to the
// command's stdout.
func createOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, f.Close, nil
}
