// Package collyfetcher implements download.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/page-downloader/internal/download"
)

// DefaultUserAgent identifies the downloader to servers.
const DefaultUserAgent = "Downloader/1.0"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds one request including redirects. Zero uses
	// download.DefaultTimeout.
	Timeout time.Duration
	// Transport carries the requests; nil builds a private transport.
	Transport http.RoundTripper
}

// Fetcher implements download.Fetcher using a Colly collector. Every call
// clones the base collector so concurrent fetches keep separate callbacks.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Redirects are followed and non-2xx responses are
// returned rather than treated as errors.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = download.DefaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(0),
		colly.ParseHTTPErrorResponse(),
	)
	// Clones share the backend, so the client is configured once here.
	c.WithTransport(&rawBodyTransport{base: transport})
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request download.FetchRequest) (download.FetchResponse, error) {
	var (
		result   download.FetchResponse
		fetchErr error
	)
	capture := &bodyCapture{}
	start := time.Now()
	collector := f.buildCollector(withCapture(ctx, capture))
	f.configureCollectorHooks(collector, request, start, capture, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return download.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request download.FetchRequest,
	start time.Time,
	capture *bodyCapture,
	result *download.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		body, ok := capture.bytes()
		if !ok {
			body = append([]byte(nil), r.Body...)
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = download.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       body,
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(request download.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Colly transcodes bodies that declare a non-UTF-8 charset. The raw body
// transport keeps a copy of the bytes as they came off the wire so pages are
// persisted unmodified.

type captureKey struct{}

type bodyCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
	set bool
}

func withCapture(ctx context.Context, c *bodyCapture) context.Context {
	return context.WithValue(ctx, captureKey{}, c)
}

func (c *bodyCapture) reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.set = true
	c.mu.Unlock()
}

func (c *bodyCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *bodyCapture) bytes() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return nil, false
	}
	return append([]byte(nil), c.buf.Bytes()...), true
}

type rawBodyTransport struct {
	base http.RoundTripper
}

func (t *rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	capture, ok := req.Context().Value(captureKey{}).(*bodyCapture)
	if !ok || resp.Body == nil {
		return resp, nil
	}
	// Each redirect hop starts over so only the final body remains.
	capture.reset()
	resp.Body = &teeReadCloser{Reader: io.TeeReader(resp.Body, capture), closer: resp.Body}
	return resp, nil
}

type teeReadCloser struct {
	io.Reader
	closer io.Closer
}

func (t *teeReadCloser) Close() error {
	return t.closer.Close()
}
