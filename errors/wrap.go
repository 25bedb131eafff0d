package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// A wrapped *Error keeps its code, category and metadata; context errors
// become TIMEOUT or CANCELED; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var hubErr *Error
	if errors.As(err, &hubErr) {
		wrapped := &Error{
			code:      hubErr.code,
			category:  hubErr.category,
			message:   message,
			cause:     err,
			metadata:  hubErr.Metadata(),
			retryable: hubErr.retryable,
			timestamp: hubErr.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsHubError extracts a *Error from an error chain.
// Returns nil, false if none is found.
func AsHubError(err error) (*Error, bool) {
	var hubErr *Error
	if errors.As(err, &hubErr) {
		return hubErr, true
	}
	return nil, false
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	if hubErr, ok := AsHubError(err); ok {
		return hubErr.code == code
	}
	return false
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	if hubErr, ok := AsHubError(err); ok {
		return hubErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Errors outside the taxonomy are not retryable.
func IsRetryable(err error) bool {
	if hubErr, ok := AsHubError(err); ok {
		return hubErr.Retryable()
	}
	return false
}

// IsPermanent checks if the error is permanent caller misuse.
func IsPermanent(err error) bool {
	return IsCategory(err, CategoryPermanent)
}

// Code extracts the error code from an error, if available.
// Returns empty string if err is not a *Error.
func Code(err error) ErrorCode {
	if hubErr, ok := AsHubError(err); ok {
		return hubErr.code
	}
	return ""
}

// GetMetadata extracts metadata from an error.
// Returns nil if err is not a *Error.
func GetMetadata(err error) map[string]string {
	if hubErr, ok := AsHubError(err); ok {
		return hubErr.Metadata()
	}
	return nil
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err
		}
		err = inner
	}
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
