package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/page-downloader/internal/dispatcher"
)

type fakeSubmitter struct {
	mu        sync.Mutex
	accepting bool
	// rejectAfter makes Enqueue fail once this many URLs are queued; -1 never.
	rejectAfter int
	err         error
	urls        []string
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{accepting: true, rejectAfter: -1}
}

func (f *fakeSubmitter) Enqueue(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.rejectAfter >= 0 && len(f.urls) >= f.rejectAfter {
		return "", dispatcher.ErrSubmissionRejected
	}
	f.urls = append(f.urls, url)
	return fmt.Sprintf("job-%d", len(f.urls)), nil
}

func (f *fakeSubmitter) Accepting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepting
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitDownloads_Succeeds(t *testing.T) {
	t.Parallel()

	sub := newFakeSubmitter()
	server := NewServer(sub, zap.NewNop())

	rec := post(t, server, `{"urls":["https://example.com","http://example.org/a?b=1"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp downloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, "https://example.com", resp.Jobs[0].URL)
	assert.Equal(t, "job-1", resp.Jobs[0].JobID)
	assert.Equal(t, "job-2", resp.Jobs[1].JobID)
	assert.Equal(t, []string{"https://example.com", "http://example.org/a?b=1"}, sub.urls)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_SubmitDownloads_BadRequests(t *testing.T) {
	t.Parallel()

	tooMany := make([]string, MaxURLsPerRequest+1)
	for i := range tooMany {
		tooMany[i] = "https://example.com"
	}
	tooManyBody, err := json.Marshal(downloadRequest{URLs: tooMany})
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"no urls", `{"urls":[]}`, "urls required"},
		{"relative url", `{"urls":["/just/a/path"]}`, "invalid url"},
		{"unsupported scheme", `{"urls":["ftp://example.com/file"]}`, "invalid url"},
		{"too many", string(tooManyBody), "at most"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub := newFakeSubmitter()
			rec := post(t, NewServer(sub, nil), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Empty(t, sub.urls)
		})
	}
}

func TestServer_SubmitDownloads_Draining(t *testing.T) {
	t.Parallel()

	sub := newFakeSubmitter()
	sub.accepting = false
	rec := post(t, NewServer(sub, nil), `{"urls":["https://example.com"]}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, sub.urls)
}

func TestServer_SubmitDownloads_RejectedMidway(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	sub := newFakeSubmitter()
	sub.rejectAfter = 1
	rec := post(t, NewServer(sub, zap.New(core)), `{"urls":["https://a.com","https://b.com"]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-1")
	assert.Equal(t, 1, logs.FilterMessage("submission cut short by shutdown").Len())
}

func TestServer_SubmitDownloads_EnqueueError(t *testing.T) {
	t.Parallel()

	sub := newFakeSubmitter()
	sub.err = errors.New("entropy exhausted")
	rec := post(t, NewServer(sub, nil), `{"urls":["https://a.com"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	sub := newFakeSubmitter()
	server := NewServer(sub, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	sub.mu.Lock()
	sub.accepting = false
	sub.mu.Unlock()

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := NewServer(newFakeSubmitter(), nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	handler := recoverMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	handler := requestIDMiddleware(loggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tea", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), fields["request_id"])
}

func TestResponseWriterHijack(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.Error(t, err)

	hj := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: hj}
	conn, _, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.True(t, hj.hijacked)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	server, client := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}
