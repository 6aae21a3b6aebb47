package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/engine/bridge"
	"github.com/nvandessel/pfstudy/internal/engine/memory"
)

func newBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve the built-in network engine over the bridge protocol",
		Long: `Serve the memory engine over HTTP so that a second pfstudy configured with
engine.kind=bridge can drive it. A bridge in front of a real simulator
speaks the same protocol: POST /v1/<operation> with JSON bodies.

Examples:
  pfstudy bridge --addr localhost:8765
  PFSTUDY_BRIDGE_TOKEN=secret pfstudy bridge --network grid.yaml

Requests must carry the configured engine.token as a bearer token when one
is set.`,
		RunE: runBridge,
	}
	cmd.Flags().String("addr", "localhost:8765", "Listen address")
	cmd.Flags().String("network", "", "Network file (default from config, else the example network)")
	return cmd
}

func runBridge(cmd *cobra.Command, args []string) error {
	root, _ := cmd.Flags().GetString("root")
	addr, _ := cmd.Flags().GetString("addr")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	network := cfg.Engine.Network
	if cmd.Flags().Changed("network") {
		network, _ = cmd.Flags().GetString("network")
	}
	spec, err := loadNetwork(network, root)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	eng := memory.New(spec)
	defer eng.Close()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           bridge.NewHandler(eng, cfg.Engine.Token, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("bridge listening", "addr", ln.Addr().String(), "buses", len(spec.Buses))
	fmt.Fprintf(cmd.ErrOrStderr(), "Bridge listening on http://%s (Ctrl-C to stop)\n", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
