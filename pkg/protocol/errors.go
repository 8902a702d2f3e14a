package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned by factories when a node config does not decode or validate.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrDelayTimeout is returned when a predicate wait exceeds its timeout.
	ErrDelayTimeout = errors.New("delay condition timed out")
)

// HandlerError classifies a handler failure as retryable or permanent.
type HandlerError struct {
	Retryable bool
	Err       error
}

func (e *HandlerError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("retryable: %v", e.Err)
	}

	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}

	return &HandlerError{Retryable: true, Err: err}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &HandlerError{Retryable: false, Err: err}
}

// IsRetryable reports whether err should be retried. Errors without a classification are retryable.
func IsRetryable(err error) bool {
	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		return handlerErr.Retryable
	}

	return true
}

// IsPermanent reports whether err was explicitly marked permanent.
func IsPermanent(err error) bool {
	return err != nil && !IsRetryable(err)
}
