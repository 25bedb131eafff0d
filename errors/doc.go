// Package errors provides the structured error taxonomy for clienthub.
//
// Every failure the registry can report to a caller is an *Error carrying a
// code, a category and string metadata. The transport layer maps codes to
// wire error codes; nothing else needs to inspect messages.
//
// # Error Categories
//
//   - Permanent: caller misuse (unrecognized field, type mismatch, missing email)
//   - Transient: backend hiccups where retry may succeed (store timeout)
//   - Internal: bugs or corrupted state
//
// # Error Codes
//
//   - MISSING_REQUIRED_FIELD: a mandatory base field is absent at creation
//   - UNRECOGNIZED_FIELD: an update names a field the manifest does not declare
//   - TYPE_MISMATCH: a value's type disagrees with the declared schema type
//   - NOT_FOUND, INVALID_INPUT, UNSUPPORTED, TIMEOUT, INTERNAL, ...
//
// # Usage
//
//	err := errors.UnrecognizedField("unauthorizedField", errors.WithServiceID("billing"))
//
//	if errors.Is(err, errors.ErrCodeUnrecognizedField) {
//	    // reject the update
//	}
//
// Readiness sentinels (clientNotFound, serviceIdNotLinked) are not errors;
// they are reported inside the readiness result.
package errors
