package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-downloader/internal/app"
	"github.com/JakeFAU/page-downloader/internal/progress/sinks"
)

type fetchOptions struct {
	file    string
	workers int
	outDir  string
}

// newFetchCmd creates the 'fetch' subcommand, which downloads the given URLs
// once and exits after every queued download has finished.
func newFetchCmd() *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch [urls...]",
		Short: "Download a list of URLs and exit",
		Long: `Queues every URL given as an argument or listed in --file (one per
line, '#' starts a comment) and waits until all of them have been fetched.
Failed downloads are logged and leave no file behind.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read URLs from this file ('-' for stdin)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "worker count (overrides pool.workers)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "output directory (overrides output.dir)")
	return cmd
}

func runFetch(cmd *cobra.Command, args []string, opts fetchOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}

	urls := append([]string(nil), args...)
	if opts.file != "" {
		fromFile, err := readURLFile(opts.file, cmd.InOrStdin())
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return errors.New("no URLs given")
	}

	cfg := rt.cfg
	if opts.workers > 0 {
		cfg.Pool.Workers = opts.workers
	}
	if opts.outDir != "" {
		cfg.Output.Dir = opts.outDir
	}

	appOpts := append([]app.Option(nil), rt.appOpts...)
	if cfg.Progress.Enabled && cfg.Progress.Bar {
		appOpts = append(appOpts, app.WithSinks(sinks.NewBarSink(cmd.ErrOrStderr(), len(urls), "downloading")))
	}
	a, err := app.New(cmd.Context(), cfg, rt.logger, appOpts...)
	if err != nil {
		return fmt.Errorf("initialize downloader: %w", err)
	}

	rejected := 0
	for _, u := range urls {
		if !a.Dispatcher().Submit(u) {
			rejected++
		}
	}
	rt.logger.Info("urls queued", zap.Int("count", len(urls)-rejected), zap.Int("workers", a.Pool().Size()))

	// Close blocks until every queued download has run.
	if err := a.Close(context.WithoutCancel(cmd.Context())); err != nil {
		rt.logger.Warn("shutdown reported errors", zap.Error(err))
	}
	rt.logger.Info("fetch finished", zap.Int("submitted", len(urls)), zap.Int("rejected", rejected))
	return nil
}

// readURLFile returns the non-empty, non-comment lines of path. A path of
// "-" reads stdin.
func readURLFile(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		// #nosec G304 -- the operator chooses which URL list to read.
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return readURLs(r)
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}
