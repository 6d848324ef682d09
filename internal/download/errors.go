package download

import "fmt"

// FetchError reports a transport-level failure: timeout, DNS, TLS, reset.
// No file is written for the job.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistError reports a failure creating the output directory or writing
// the page file.
type PersistError struct {
	URL      string
	Filename string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s as %s: %v", e.URL, e.Filename, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
