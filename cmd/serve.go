package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-downloader/internal/api"
	"github.com/JakeFAU/page-downloader/internal/app"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which accepts downloads over
// HTTP until the process is signaled.
func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the downloader as an HTTP service",
		Long: `Starts the worker pool and an HTTP API. POST /v1/downloads queues URLs;
/healthz, /readyz and /metrics serve probes and Prometheus metrics. On
SIGINT or SIGTERM the server stops accepting requests and the pool drains
every queued download before the process exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, port int) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg := rt.cfg
	if port > 0 {
		cfg.Server.Port = port
	}
	a, err := app.New(cmd.Context(), cfg, rt.logger, rt.appOpts...)
	if err != nil {
		return fmt.Errorf("initialize downloader: %w", err)
	}
	logger := rt.logger

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(a.Dispatcher(), logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	// Draining has no deadline; queued downloads are bounded by their own timeout.
	if err := a.Close(context.WithoutCancel(cmd.Context())); err != nil {
		logger.Warn("downloader shutdown reported errors", zap.Error(err))
	}
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
