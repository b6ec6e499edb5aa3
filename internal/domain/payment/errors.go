package payment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("payment: not found")
	ErrConflict = errors.New("payment: already exists")
)

// ErrorCode classifies a payment error for callers and the audit trail. All
// failures surface as the same *Error type; callers distinguish by code or
// message rather than by catching different error types.
type ErrorCode string

const (
	// CodePrecondition: the operation is invalid for the current payment
	// state. Raised before any gateway call, so no transaction is recorded.
	CodePrecondition ErrorCode = "precondition"
	// CodeConfiguration: unknown gateway or missing capability. A deployment
	// bug, not a transient condition; also raised before any gateway call.
	CodeConfiguration ErrorCode = "configuration"
	// CodeGateway: the backend rejected the request or was unreachable.
	// Always paired with a failed transaction in the ledger.
	CodeGateway ErrorCode = "gateway"
	// CodeInvalidResponse: the plugin returned a structurally invalid
	// response; treated as a failure even if the plugin claimed success.
	CodeInvalidResponse ErrorCode = "invalid_response"
)

type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == code
}
