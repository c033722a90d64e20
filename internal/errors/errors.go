package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error class mapped to HTTP statuses.
type Code int

const (
	CodeInternal    Code = 1
	CodeValidation  Code = 2
	CodeUnavailable Code = 12
	CodeReverted    Code = 20
	CodeTimedOut    Code = 21
)

var codeNames = map[Code]string{
	CodeInternal:    "InternalError",
	CodeValidation:  "ValidationError",
	CodeUnavailable: "UpstreamUnavailable",
	CodeReverted:    "Reverted",
	CodeTimedOut:    "TimedOut",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// HTTPStatus is the response status used when an error of this class reaches the boundary.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnavailable:
		return http.StatusBadGateway
	case CodeReverted:
		return http.StatusUnprocessableEntity
	case CodeTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed gateway error that carries a stable error code.
//
// Reason holds the remote revert reason for CodeReverted, and TxHash the
// submitted transaction hash when one is known (always set for CodeTimedOut
// once the transaction was accepted by the node).
type Error struct {
	Code    Code
	Message string
	Reason  string
	TxHash  string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Reverted builds a CodeReverted error carrying the remote reason verbatim.
func Reverted(message, reason, txHash string) *Error {
	return &Error{Code: CodeReverted, Message: message, Reason: reason, TxHash: txHash}
}

// TimedOut builds a CodeTimedOut error for a transaction whose outcome is unknown.
func TimedOut(message, txHash string, cause error) *Error {
	return &Error{Code: CodeTimedOut, Message: message, TxHash: txHash, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Classify always returns a typed error. Untyped context deadline errors are
// treated as upstream unavailability; anything else is internal.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := As(err); ok {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(CodeUnavailable, "upstream request cancelled", err)
	}
	return Wrap(CodeInternal, "internal error", err)
}

// CodeOf returns the class of err, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	return Classify(err).Code
}

func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return Classify(err).Code.HTTPStatus()
}
