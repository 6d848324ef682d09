package download

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-downloader/internal/logging"
	"github.com/JakeFAU/page-downloader/internal/metrics"
	"github.com/JakeFAU/page-downloader/internal/progress"
)

// DefaultTimeout bounds a single fetch when Config.Timeout is zero.
const DefaultTimeout = 20 * time.Second

const defaultContentType = "text/html; charset=utf-8"

// Config holds the per-executor settings shared by every job.
type Config struct {
	Timeout     time.Duration
	ContentType string
}

// Executor runs fetch-and-persist jobs. It is safe for concurrent use by any
// number of workers; all of its state is read-only after construction.
type Executor struct {
	fetcher Fetcher
	store   BlobStore
	hasher  Hasher
	clock   Clock
	events  progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// NewExecutor constructs an Executor. hasher and events may be nil.
func NewExecutor(
	fetcher Fetcher,
	store BlobStore,
	hasher Hasher,
	clock Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		fetcher: fetcher,
		store:   store,
		hasher:  hasher,
		clock:   clock,
		events:  events,
		cfg:     cfg,
		logger:  logger,
	}
}

// Job is one URL to fetch and persist. It is immutable once built.
type Job struct {
	ID        string
	URL       string
	Submitted time.Time

	exec *Executor
}

// NewJob binds url to the executor.
func (e *Executor) NewJob(id, url string) *Job {
	return &Job{
		ID:        id,
		URL:       url,
		Submitted: e.now(),
		exec:      e,
	}
}

// Execute runs the job to completion. Failures are logged and swallowed.
func (j *Job) Execute() {
	j.exec.execute(context.Background(), j)
}

func (e *Executor) execute(ctx context.Context, job *Job) {
	logger := e.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))
	logging.Trace(logger, "job dequeued", zap.Duration("queued_for", e.now().Sub(job.Submitted)))

	res, err := e.Run(ctx, job)
	if err != nil {
		logging.Log(logger, logging.ErrorLevel, "download failed", zap.Error(err))
		return
	}
	logger.Info("page saved",
		zap.String("file", res.Filename),
		zap.String("uri", res.URI),
		zap.Int("status", res.StatusCode),
		zap.Int("bytes", res.Bytes),
		zap.String("content_hash", res.ContentHash),
		zap.Duration("duration", res.Duration),
	)
}

// Run fetches job.URL and writes the body under Filename(job.URL). It returns
// a *FetchError when the transport fails and a *PersistError when the page
// cannot be written. The HTTP status code does not affect the outcome.
func (e *Executor) Run(ctx context.Context, job *Job) (Result, error) {
	start := e.now()
	site := metrics.SanitizeSite(job.URL)
	e.emit(progress.Event{JobID: job.ID, TS: start, Stage: progress.StageJobStart, Site: site, URL: job.URL})

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	resp, err := e.fetcher.Fetch(fetchCtx, FetchRequest{JobID: job.ID, URL: job.URL})
	cancel()
	if err != nil {
		ferr := &FetchError{URL: job.URL, Err: err}
		e.emitError(job, site, start, ferr)
		return Result{}, ferr
	}

	e.emit(progress.Event{
		JobID:       job.ID,
		TS:          e.now(),
		Stage:       progress.StageFetchDone,
		Site:        site,
		URL:         job.URL,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})

	name := Filename(job.URL)
	contentType := e.cfg.ContentType
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		contentType = ct
	}
	uri, err := e.store.PutObject(ctx, name, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		perr := &PersistError{URL: job.URL, Filename: name, Err: err}
		e.emitError(job, site, start, perr)
		return Result{}, perr
	}

	res := Result{
		JobID:      job.ID,
		URL:        job.URL,
		FinalURL:   resp.URL,
		StatusCode: resp.StatusCode,
		Filename:   name,
		URI:        uri,
		Bytes:      len(resp.Body),
		Duration:   e.now().Sub(start),
	}
	if e.hasher != nil {
		if sum, hashErr := e.hasher.Hash(resp.Body); hashErr == nil {
			res.ContentHash = sum
		}
	}
	e.emit(progress.Event{
		JobID:  job.ID,
		TS:     e.now(),
		Stage:  progress.StageJobDone,
		Site:   site,
		URL:    job.URL,
		Visits: 1,
		Dur:    res.Duration,
	})
	return res, nil
}

func (e *Executor) emitError(job *Job, site string, start time.Time, err error) {
	now := e.now()
	e.emit(progress.Event{
		JobID: job.ID,
		TS:    now,
		Stage: progress.StageJobError,
		Site:  site,
		URL:   job.URL,
		Dur:   now.Sub(start),
		Note:  err.Error(),
	})
}

func (e *Executor) emit(evt progress.Event) {
	if e.events != nil {
		e.events.Emit(evt)
	}
}

func (e *Executor) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}
