// Package download defines the fetch-and-persist unit of work executed by the
// worker pool, the collaborator interfaces it depends on, and the
// URL-to-filename normalization that names persisted pages.
//
// A Job captures a URL by value together with a reference to the Executor
// that holds the shared fetch configuration. Executing a Job performs one GET
// (redirects followed, bounded by the configured timeout), buffers the whole
// body, and on transport success writes it to the output directory under
// Filename(url), regardless of the HTTP status code. Transport and persistence
// failures are logged and end the job; they never reach the pool.
package download
