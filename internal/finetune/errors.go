package finetune

import (
	"errors"
	"fmt"
)

// trainingFailedError wraps an unrecoverable optimizer error with the epoch
// it struck in, so the caller knows where to look.
type trainingFailedError struct {
	epoch int
	cause error
}

func (e trainingFailedError) Error() string {
	return fmt.Sprintf("training failed at epoch %d: %v", e.epoch, e.cause)
}

func (e trainingFailedError) Unwrap() error { return e.cause }

// ErrTrainingFailed constructs a trainingFailedError.
func ErrTrainingFailed(epoch int, cause error) error {
	return trainingFailedError{epoch: epoch, cause: cause}
}

// IsTrainingFailed reports whether err indicates an aborted training run,
// unwrapping any %w layers callers added.
func IsTrainingFailed(err error) bool {
	var e trainingFailedError
	return errors.As(err, &e)
}

// runStateError indicates an invalid lifecycle transition, e.g. cancelling
// a run that already completed.
type runStateError struct {
	from, to string
}

func (e runStateError) Error() string {
	return fmt.Sprintf("invalid run transition: %s -> %s", e.from, e.to)
}

// IsRunState reports whether err indicates an invalid run transition.
func IsRunState(err error) bool {
	var e runStateError
	return errors.As(err, &e)
}

// runNotFoundError indicates an unknown run id.
type runNotFoundError struct{ id string }

func (e runNotFoundError) Error() string { return "run not found: " + e.id }

// IsRunNotFound reports whether err indicates an unknown run id.
func IsRunNotFound(err error) bool {
	var e runNotFoundError
	return errors.As(err, &e)
}

// invalidParamsError indicates rejected fine-tuning inputs, e.g. a resume
// checkpoint that leaves no epochs to train.
type invalidParamsError struct{ msg string }

func (e invalidParamsError) Error() string { return e.msg }

// ErrInvalidParams constructs an invalidParamsError.
func ErrInvalidParams(format string, args ...any) error {
	return invalidParamsError{msg: fmt.Sprintf(format, args...)}
}

// IsInvalidParams reports whether err indicates rejected fine-tuning inputs.
func IsInvalidParams(err error) bool {
	var e invalidParamsError
	return errors.As(err, &e)
}
