package lending

import (
	"errors"
	"fmt"
)

// ===== Error model (catalog と同型、貸出用コードを追加) =====
type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeLimitReached       Code = "LIMIT_REACHED"
	CodeNoCopies           Code = "NO_COPIES_AVAILABLE"
	CodeNotOwner           Code = "NOT_OWNER"
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeInventoryInvariant Code = "INVENTORY_INVARIANT"
	CodeTransient          Code = "TRANSIENT"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrLimitReached(max int) *APIError {
	return &APIError{Code: CodeLimitReached, Message: fmt.Sprintf("borrowing limit reached (%d allowed)", max)}
}
func ErrNoCopies() *APIError {
	return &APIError{Code: CodeNoCopies, Message: "no copies available"}
}
func ErrNotOwner() *APIError {
	return &APIError{Code: CodeNotOwner, Message: "loan does not belong to the acting member"}
}
func ErrInvalidTransition(msg string) *APIError {
	return &APIError{Code: CodeInvalidTransition, Message: msg}
}
func ErrInventoryInvariant(msg string) *APIError {
	return &APIError{Code: CodeInventoryInvariant, Message: msg}
}
func ErrTransient(msg string) *APIError  { return &APIError{Code: CodeTransient, Message: msg} }
func ErrUnavailable(msg string) *APIError { return &APIError{Code: CodeUnavailable, Message: msg} }
func ErrInternal(msg string) *APIError   { return &APIError{Code: CodeInternal, Message: msg} }

// CodeOf: 型付きエラーからコードを取り出す。未知のエラーは INTERNAL 扱い。
func CodeOf(err error) Code {
	var api *APIError
	if errors.As(err, &api) {
		return api.Code
	}
	return CodeInternal
}

func isTransientErr(err error) bool { return CodeOf(err) == CodeTransient }

func toHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return 400
	case CodeNotOwner:
		return 403
	case CodeNotFound:
		return 404
	case CodeLimitReached, CodeNoCopies, CodeInvalidTransition:
		return 409
	case CodeTransient, CodeUnavailable:
		return 503
	default:
		return 500
	}
}
