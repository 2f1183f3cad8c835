package httpclient

import (
	"fmt"
	"time"
)

// RetryableError is returned by Client.Do once an upstream model provider
// keeps rejecting a request past maxRetries. Message states that the
// retry budget ran out (e.g. "max retries (3) exceeded"); the provider's
// response body is not read into it. Err holds the last attempt's error.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) IsRetryable() bool {
	return true
}
