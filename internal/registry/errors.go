package registry

import "errors"

// unknownModelError indicates a requested model id is not registered.
type unknownModelError struct{ id string }

func (e unknownModelError) Error() string { return "unknown model: " + e.id }

// ErrUnknownModel constructs an unknownModelError.
func ErrUnknownModel(id string) error { return unknownModelError{id: id} }

// IsUnknownModel reports whether the error indicates a missing model id,
// unwrapping any %w layers callers added.
func IsUnknownModel(err error) bool {
	var e unknownModelError
	return errors.As(err, &e)
}

// duplicateModelError indicates a registration collided with an existing id.
type duplicateModelError struct{ id string }

func (e duplicateModelError) Error() string { return "duplicate model: " + e.id }

// ErrDuplicateModel constructs a duplicateModelError.
func ErrDuplicateModel(id string) error { return duplicateModelError{id: id} }

// IsDuplicateModel reports whether the error indicates an id collision.
func IsDuplicateModel(err error) bool {
	var e duplicateModelError
	return errors.As(err, &e)
}

// invalidConfigError indicates a model config failed validation.
type invalidConfigError struct{ msg string }

func (e invalidConfigError) Error() string { return "invalid model config: " + e.msg }

// IsInvalidConfig reports whether the error indicates a rejected config.
func IsInvalidConfig(err error) bool {
	var e invalidConfigError
	return errors.As(err, &e)
}
