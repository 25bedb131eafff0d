package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: store timeouts, bus temporarily unavailable.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates caller misuse where retry will not help.
	// Examples: unrecognized field, type mismatch, missing email.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error kinds within categories.
type ErrorCode string

// Error codes surfaced by the client registry and mailbox.
const (
	// Client and manifest validation
	ErrCodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD" // Mandatory base field absent at creation
	ErrCodeUnrecognizedField    ErrorCode = "UNRECOGNIZED_FIELD"     // Update names a field the manifest does not declare
	ErrCodeTypeMismatch         ErrorCode = "TYPE_MISMATCH"          // Value type disagrees with declared type

	// Generic permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Resource does not exist
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed or contract-violating input
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED"   // Method or operation not supported
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Backend temporarily unavailable

	// Internal errors
	ErrCodeInternal   ErrorCode = "INTERNAL"   // Unexpected internal error
	ErrCodeCorruption ErrorCode = "CORRUPTION" // Stored data could not be decoded
	ErrCodePanic      ErrorCode = "PANIC"      // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeMissingRequiredField, ErrCodeUnrecognizedField, ErrCodeTypeMismatch,
		ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeUnsupported, ErrCodeCanceled:
		return CategoryPermanent

	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeMissingRequiredField: "missing required field",
	ErrCodeUnrecognizedField:    "field is not recognized for this client context",
	ErrCodeTypeMismatch:         "invalid type for field",
	ErrCodeNotFound:             "resource not found",
	ErrCodeInvalidInput:         "invalid input provided",
	ErrCodeUnsupported:          "operation not supported",
	ErrCodeCanceled:             "operation canceled",
	ErrCodeTimeout:              "operation timed out",
	ErrCodeUnavailable:          "backend temporarily unavailable",
	ErrCodeInternal:             "internal error",
	ErrCodeCorruption:           "stored data is corrupted",
	ErrCodePanic:                "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
