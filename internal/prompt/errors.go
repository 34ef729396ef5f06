package prompt

import "errors"

// emptyPromptError indicates the raw prompt was blank after trimming.
type emptyPromptError struct{}

func (emptyPromptError) Error() string { return "empty prompt" }

// ErrEmptyPrompt constructs an emptyPromptError.
func ErrEmptyPrompt() error { return emptyPromptError{} }

// IsEmptyPrompt reports whether the error indicates a blank prompt,
// unwrapping any %w layers callers added.
func IsEmptyPrompt(err error) bool {
	var e emptyPromptError
	return errors.As(err, &e)
}
