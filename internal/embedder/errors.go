package embedder

import (
	"errors"
	"fmt"
)

// ErrBudgetExceeded means the rate limiter denied a permit for every backoff
// attempt. Per-frame recoverable: the frame is retried in a later run.
var ErrBudgetExceeded = errors.New("embedding budget exceeded")

// ProviderError is an upstream failure. Retryable errors (429, 5xx,
// transport) are retried with backoff before surfacing; fatal ones (auth,
// malformed input) surface immediately.
type ProviderError struct {
	Status    int
	Body      string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding provider: %v", e.Err)
	}
	return fmt.Sprintf("embedding provider: http %d: %s", e.Status, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 429 || code == 408 || code >= 500
}
