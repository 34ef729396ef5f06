package generate

import (
	"errors"
	"fmt"
)

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

// IsTooBusy reports whether err indicates backpressure (return 429),
// unwrapping any %w layers callers added.
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// badRequestError indicates an invalid generation parameter.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

// ErrBadRequest constructs a badRequestError.
func ErrBadRequest(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

// IsBadRequest reports whether err indicates invalid request parameters.
func IsBadRequest(err error) bool {
	var e badRequestError
	return errors.As(err, &e)
}
