package aggregator

import (
	"context"
	"errors"
	"fmt"
)

// StatusError is a non-2xx response from the aggregator.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("aggregator http status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("aggregator http status %d", e.Code)
}

// Permanent reports a client error. Client errors are never retried.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500
}

// IsPermanent reports whether err is a 4xx response.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// IsTransient reports whether err is worth retrying: network failures and
// 5xx responses. Context cancellation is neither.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !IsPermanent(err)
}
