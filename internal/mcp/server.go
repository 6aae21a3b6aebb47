// Package mcp provides an MCP (Model Context Protocol) server for pfstudy.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/pfstudy/internal/config"
	"github.com/nvandessel/pfstudy/internal/engine"
	"github.com/nvandessel/pfstudy/internal/pathutil"
	"github.com/nvandessel/pfstudy/internal/store"
)

// EngineFactory opens a fresh engine session for one tool call. The caller
// closes it.
type EngineFactory func(ctx context.Context) (engine.Engine, error)

// Server wraps the MCP SDK server and provides pfstudy tools.
type Server struct {
	server     *sdk.Server
	store      *store.SQLiteStore
	settings   *config.Config
	openEngine EngineFactory
	root       string
	sandbox    *pathutil.Sandbox
	logger     *slog.Logger
	audit      *AuditLogger
	limits     toolLimits

	// runMu serializes Monte Carlo runs; an engine session holds one study
	// at a time.
	runMu sync.Mutex
}

// Config holds server configuration.
type Config struct {
	Name       string // Server name (e.g., "pfstudy")
	Version    string // Server version
	Root       string // Project root directory
	Settings   *config.Config
	OpenEngine EngineFactory
	Logger     *slog.Logger
}

// NewServer creates a new MCP server with pfstudy tools. The run history is
// opened under <root>/.pfstudy.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.OpenEngine == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sandbox, err := pathutil.NewSandbox(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to set up file sandbox: %w", err)
	}
	runStore, err := store.Open(store.LocalPath(cfg.Root))
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:     mcpServer,
		store:      runStore,
		settings:   settings,
		openEngine: cfg.OpenEngine,
		root:       cfg.Root,
		sandbox:    sandbox,
		logger:     logger,
		audit:      NewAuditLogger(store.LocalPath(cfg.Root)),
		limits:     newToolLimits(),
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.Close()
	return err
}

// Close closes the server and releases resources.
func (s *Server) Close() error {
	s.audit.Close()
	return s.store.Close()
}
