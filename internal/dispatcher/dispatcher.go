// Package dispatcher turns URLs into download jobs and hands them to the
// worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-downloader/internal/download"
	"github.com/JakeFAU/page-downloader/internal/metrics"
	"github.com/JakeFAU/page-downloader/internal/worker"
)

// ErrSubmissionRejected is returned by Enqueue once the pool has begun
// stopping.
var ErrSubmissionRejected = errors.New("submission rejected: pool is stopping")

// Pool is the subset of worker.Pool used by the dispatcher.
type Pool interface {
	Submit(task worker.Task) bool
	State() worker.State
}

// Dispatcher binds URLs to the shared executor and submits them to the pool.
// It never performs network I/O itself.
type Dispatcher struct {
	pool   Pool
	exec   *download.Executor
	ids    download.IDGenerator
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(pool Pool, exec *download.Executor, ids download.IDGenerator, logger *zap.Logger) (*Dispatcher, error) {
	if pool == nil {
		return nil, errors.New("dispatcher: pool is required")
	}
	if exec == nil {
		return nil, errors.New("dispatcher: executor is required")
	}
	if ids == nil {
		return nil, errors.New("dispatcher: id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		pool:   pool,
		exec:   exec,
		ids:    ids,
		logger: logger,
	}, nil
}

// Submit queues a download of url and reports whether the pool accepted it.
// Rejections are logged and dropped.
func (d *Dispatcher) Submit(url string) bool {
	_, err := d.Enqueue(context.Background(), url)
	return err == nil
}

// Enqueue queues a download of url and returns its job ID. It returns
// ErrSubmissionRejected when the pool no longer accepts work.
func (d *Dispatcher) Enqueue(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", url, err)
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return "", errors.New("url is required")
	}
	id, err := d.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", url, err)
	}

	job := d.exec.NewJob(id, url)
	accepted := d.pool.Submit(job)
	metrics.ObserveSubmission(accepted)
	if !accepted {
		d.logger.Warn("submission rejected", zap.String("url", url), zap.Stringer("pool_state", d.pool.State()))
		return "", ErrSubmissionRejected
	}
	d.logger.Debug("job queued", zap.String("job_id", id), zap.String("url", url))
	return id, nil
}

// Accepting reports whether new submissions can still be queued.
func (d *Dispatcher) Accepting() bool {
	switch d.pool.State() {
	case worker.Uninitialized, worker.Running:
		return true
	default:
		return false
	}
}
