package remote

import (
	"errors"
	"fmt"
)

// RetryableError indicates a transient failure (timeout, connectivity
// loss, 5xx). The engine retries these with backoff; they are never
// surfaced as hard failures, only as a pending status.
type RetryableError struct {
	Op     string
	URL    string
	Status int // 0 for transport-level failures
	Err    error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.Status)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// TerminalError indicates the remote rejected the mutation permanently
// (validation, 4xx). The engine drops the item and reports it instead of
// retrying.
type TerminalError struct {
	Op     string
	URL    string
	Status int
	Body   string
}

func (e *TerminalError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.Status)
}

// AuthExpiredError indicates the session is no longer valid. The engine
// pauses and delegates to re-authentication rather than retrying the
// queue item.
type AuthExpiredError struct {
	Status int
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("authentication expired (status %d)", e.Status)
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsTerminal reports whether err is a permanent remote rejection.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// IsAuthExpired reports whether err means the session must be refreshed.
func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}
