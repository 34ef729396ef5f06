package engine

import "errors"

// unavailableError signals a missing or failed runtime capability (engine
// not installed, weights absent) so callers can map it to 503 instead of 500.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing/failed capability,
// unwrapping any %w layers callers added.
func IsUnavailable(err error) bool {
	var e unavailableError
	return errors.As(err, &e)
}
