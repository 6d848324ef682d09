// Package app wires the long-lived downloader services together and owns
// their lifetime. An App replaces process-wide singletons: it is built once
// by the command, passed to whatever needs it, and closed in a fixed order.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-downloader/internal/clock/system"
	"github.com/JakeFAU/page-downloader/internal/config"
	"github.com/JakeFAU/page-downloader/internal/dispatcher"
	"github.com/JakeFAU/page-downloader/internal/download"
	collyfetcher "github.com/JakeFAU/page-downloader/internal/fetcher/colly"
	"github.com/JakeFAU/page-downloader/internal/hash/sha256"
	"github.com/JakeFAU/page-downloader/internal/id/uuid"
	"github.com/JakeFAU/page-downloader/internal/netstack"
	"github.com/JakeFAU/page-downloader/internal/progress"
	"github.com/JakeFAU/page-downloader/internal/progress/sinks"
	"github.com/JakeFAU/page-downloader/internal/storage/local"
	"github.com/JakeFAU/page-downloader/internal/storage/memory"
	"github.com/JakeFAU/page-downloader/internal/worker"
)

// App holds the shared services for one run of the downloader.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	net        *netstack.Stack
	store      download.BlobStore
	hub        *progress.Hub
	pool       *worker.Pool
	dispatcher *dispatcher.Dispatcher

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	registerer  prometheus.Registerer
	sinks       []progress.Sink
	poolOptions []worker.Option
	fetcher     download.Fetcher
}

// Option customizes New.
type Option func(*options)

// WithRegisterer registers the progress collectors against reg instead of the
// default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSinks adds progress sinks next to the log and Prometheus sinks.
func WithSinks(s ...progress.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// WithPoolOptions passes options through to the worker pool.
func WithPoolOptions(opts ...worker.Option) Option {
	return func(o *options) { o.poolOptions = append(o.poolOptions, opts...) }
}

// WithFetcher replaces the Colly fetcher. The network stack is still acquired.
func WithFetcher(f download.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New acquires the network stack, builds the storage backend, progress hub,
// executor, pool and dispatcher, and starts the pool. Anything acquired before
// a failure is released before New returns.
func New(_ context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger.Info("initializing downloader services")

	stack := netstack.New(netstack.Config{CAFile: cfg.Fetch.CAFile}, logger)
	transport, err := stack.Acquire()
	if err != nil {
		return nil, fmt.Errorf("initialize network stack: %w", err)
	}
	a := &App{cfg: cfg, logger: logger, net: stack}

	a.store, err = newStore(cfg.Output, logger)
	if err != nil {
		stack.Release()
		return nil, err
	}

	var events progress.Emitter
	if cfg.Progress.Enabled {
		hubSinks := []progress.Sink{sinks.NewLogSink(logger)}
		promSink, err := sinks.NewPrometheusSink(o.registerer)
		if err != nil {
			stack.Release()
			return nil, fmt.Errorf("initialize progress metrics: %w", err)
		}
		hubSinks = append(hubSinks, promSink)
		hubSinks = append(hubSinks, o.sinks...)
		a.hub = progress.NewHub(progress.Config{Logger: logger}, hubSinks...)
		events = a.hub
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.Fetch.Timeout,
			Transport: transport,
		})
	}
	exec := download.NewExecutor(
		fetcher,
		a.store,
		sha256.New(),
		system.New(),
		events,
		download.Config{Timeout: cfg.Fetch.Timeout},
		logger,
	)

	a.pool = worker.New(logger, o.poolOptions...)
	a.dispatcher, err = dispatcher.New(a.pool, exec, uuid.New(), logger)
	if err != nil {
		a.abort()
		return nil, err
	}
	if err := a.pool.Start(cfg.Pool.Workers); err != nil {
		a.abort()
		return nil, fmt.Errorf("start worker pool: %w", err)
	}

	logger.Info("downloader services initialized",
		zap.Int("workers", a.pool.Size()),
		zap.String("backend", cfg.Output.Backend),
		zap.String("output_dir", cfg.Output.Dir),
	)
	return a, nil
}

func newStore(cfg config.OutputConfig, logger *zap.Logger) (download.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendLocal, "":
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("initialize local storage: %w", err)
		}
		logger.Info("using local storage", zap.String("dir", store.BaseDir()))
		return store, nil
	case config.BackendMemory:
		logger.Info("using in-memory storage; pages are discarded at exit")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// abort unwinds a partially built App.
func (a *App) abort() {
	if a.pool != nil {
		a.pool.Stop()
	}
	a.net.Release()
	if a.hub != nil {
		_ = a.hub.Close(context.Background())
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Dispatcher returns the URL submission facade.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Pool returns the worker pool.
func (a *App) Pool() *worker.Pool {
	return a.pool
}

// Store returns the page storage backend.
func (a *App) Store() download.BlobStore {
	return a.store
}

// Network returns the shared network stack.
func (a *App) Network() *netstack.Stack {
	return a.net
}

// Close drains the pool, releases the network stack once no job can use it,
// then flushes progress sinks. It blocks until queued downloads finish and is
// safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down downloader services", zap.Int("pending", a.pool.Pending()))
		a.pool.Stop()
		a.net.Release()

		var errs []error
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close progress hub: %w", err))
			}
			if dropped := a.hub.Dropped(); dropped > 0 {
				a.logger.Warn("progress events dropped", zap.Int64("count", dropped))
			}
		}
		a.closeErr = errors.Join(errs...)
		a.logger.Info("downloader services stopped")
	})
	return a.closeErr
}
