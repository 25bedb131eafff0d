package rpc

import (
	stderrors "errors"

	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/mailbox"
	"github.com/vinayprograms/clienthub/transport"
)

var rpcCodes = map[errors.ErrorCode]int{
	errors.ErrCodeMissingRequiredField: transport.MissingRequiredField,
	errors.ErrCodeUnrecognizedField:    transport.UnrecognizedField,
	errors.ErrCodeTypeMismatch:         transport.TypeMismatch,
	errors.ErrCodeNotFound:             transport.NotFound,
	errors.ErrCodeInvalidInput:         transport.InvalidParams,
	errors.ErrCodeUnsupported:          transport.MethodNotFound,
}

// ToRPCError maps err onto a JSON-RPC error object. Coded errors keep their
// structured form in data.
func ToRPCError(err error) *transport.Error {
	var rpcErr *transport.Error
	if stderrors.As(err, &rpcErr) {
		return rpcErr
	}
	if stderrors.Is(err, mailbox.ErrInvalidKey) {
		return &transport.Error{Code: transport.InvalidParams, Message: err.Error()}
	}

	hubErr, ok := errors.AsHubError(err)
	if !ok {
		return &transport.Error{Code: transport.InternalError, Message: err.Error()}
	}
	code, known := rpcCodes[hubErr.Code()]
	if !known {
		code = transport.InternalError
	}
	return &transport.Error{Code: code, Message: hubErr.Error(), Data: hubErr}
}
