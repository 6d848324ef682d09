// Package cmd defines and implements the CLI commands for the downloader
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-downloader/internal/app"
	"github.com/JakeFAU/page-downloader/internal/config"
	"github.com/JakeFAU/page-downloader/internal/logging"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what PersistentPreRunE prepares for every subcommand.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	// appOpts are appended to every app.New call; tests inject registries here.
	appOpts []app.Option
}

// newRootCmd creates and configures the root command.
func newRootCmd(appOpts ...app.Option) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "downloader",
		Short: "Fetch web pages concurrently and save each one to disk.",
		Long: `downloader fetches a set of URLs on a fixed-size worker pool and writes
each response body to a file whose name is derived from the URL. It runs
either once over a list of URLs (fetch) or as a long-lived HTTP service
(serve).`,
		SilenceUsage: true,

		// Load configuration and build the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{
				cfg:     cfg,
				logger:  logger,
				appOpts: appOpts,
			})
			cmd.SetContext(ctx)
			return nil
		},

		// Flush buffered log entries once the subcommand returns.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, errors.New("runtime not initialized")
	}
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point. It returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "downloader: %v\n", err)
		return 1
	}
	return 0
}
