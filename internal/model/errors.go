package model

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a schedule/reminder lookup miss. Interactive callers map
// it to a request failure; job handlers log it with a stack and return it so
// the queue's retry policy applies.
var ErrNotFound = errors.New("not found")

// ErrBadRequest marks an invalid recurrence combination or field value.
var ErrBadRequest = errors.New("bad request")

// NotFoundf wraps ErrNotFound with detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// BadRequestf wraps ErrBadRequest with detail.
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}
