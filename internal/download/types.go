package download

import (
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation. Body holds
// the complete, unmodified response body.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Result describes a persisted page.
type Result struct {
	JobID       string
	URL         string
	FinalURL    string
	StatusCode  int
	Filename    string
	URI         string
	Bytes       int
	ContentHash string
	Duration    time.Duration
}
