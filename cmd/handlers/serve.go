package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cyberbrief/internal/logger"
	"cyberbrief/internal/server"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve command for starting the HTTP API server.
func NewServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the CyberBrief REST API server.

The server provides:
  • On-demand digest runs (POST /api/digest/run)
  • The story feed with briefings (GET /api/feed/brief)
  • The CVE exposure ledger and remediation metrics (/api/exposure)
  • Technology stack management (/api/techstack)
  • A health check endpoint (GET /healthz)

Scheduled digests run separately via 'cyberbrief schedule'.

Examples:
  # Start the server on the configured address (default :8080)
  cyberbrief serve

  # Start on a custom address
  cyberbrief serve --addr :3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config: :8080)")

	return cmd
}

func runServe(ctx context.Context, addr string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	serverCfg := app.cfg.Server
	if addr != "" {
		serverCfg.Addr = addr
	}

	srv := server.New(app.db, app.pipeline, app.exposure, serverCfg, app.cfg.Email.FrontendURL)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", serverCfg.Addr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}
