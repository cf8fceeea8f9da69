package ha

import "fmt"

// FetchCause classifies why a state fetch failed.
type FetchCause string

const (
	// CauseNetwork covers transport failures and unexpected HTTP
	// statuses from Home Assistant.
	CauseNetwork FetchCause = "network"
	// CauseAuth means Home Assistant rejected the bearer token.
	CauseAuth FetchCause = "auth"
	// CauseFormat means the response body could not be decoded.
	CauseFormat FetchCause = "format"
)

// FetchError is the single error type the fetcher surfaces. The
// reconciler never retries it; the polling period is the backoff.
type FetchError struct {
	Cause FetchCause
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed (%s): %v", e.Cause, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErrorf(cause FetchCause, format string, args ...interface{}) *FetchError {
	return &FetchError{Cause: cause, Err: fmt.Errorf(format, args...)}
}
