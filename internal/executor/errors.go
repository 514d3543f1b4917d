// internal/executor/errors.go
package executor

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks transient executor failures: network errors,
// 5xx responses, timeouts and an open circuit breaker. Callers retry
// only at the next scheduled poll, never immediately.
var ErrUnavailable = errors.New("executor unavailable")

// RejectedError is a permanent refusal from the executor (4xx). An
// execution failing with it is failed immediately, without retry.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("executor rejected request (%d): %s", e.StatusCode, e.Reason)
}
