package sned

import (
	"errors"
	"fmt"
)

var (
	// ErrBlockhashUnavailable is returned when no recent blockhash could be
	// fetched within the BlockhashPolicy.
	ErrBlockhashUnavailable = errors.New("recent blockhash unavailable")

	// ErrRetriesExhausted is returned when every broadcast attempt in the
	// RetryBudget failed.
	ErrRetriesExhausted = errors.New("broadcast retries exhausted")
)

// ValidationError reports input rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// SigningError wraps a failure from the Signer. A signing failure is never
// retried and no transaction of the affected batch is broadcast.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing rejected: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
