// Package apperr is the error taxonomy shared by the handshake core and the HTTP layer.
package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeInvalidCode          Code = "INVALID_CODE"
	CodeNotificationDelivery Code = "NOTIFICATION_DELIVERY"
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeInternal             Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeNotFound:             {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeForbidden:            {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeInvalidState:         {HTTPStatus: http.StatusBadRequest, PublicMessage: "operation not allowed in the current order state"},
	CodeInvalidCode:          {HTTPStatus: http.StatusBadRequest, PublicMessage: "invalid code"},
	CodeNotificationDelivery: {HTTPStatus: http.StatusInternalServerError, PublicMessage: "notification could not be delivered"},
	CodeValidation:           {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed"},
	CodeUnauthorized:         {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeInternal:             {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error"},
}

// MetadataFor returns the transport metadata of a code; unknown codes map to CodeInternal.
func MetadataFor(code Code) Metadata {
	if md, ok := metadataByCode[code]; ok {
		return md
	}
	return metadataByCode[CodeInternal]
}

// Sentinels for errors.Is; an *Error matches any sentinel with the same code.
var (
	ErrNotFound             = &Error{code: CodeNotFound, message: "not found"}
	ErrForbidden            = &Error{code: CodeForbidden, message: "forbidden"}
	ErrInvalidState         = &Error{code: CodeInvalidState, message: "invalid state"}
	ErrInvalidCode          = &Error{code: CodeInvalidCode, message: "invalid code"}
	ErrNotificationDelivery = &Error{code: CodeNotificationDelivery, message: "notification delivery failed"}
)

type Error struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches by code so callers can compare against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code
}

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of err, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if te := As(err); te != nil {
		return te.Code()
	}
	return CodeInternal
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	return MetadataFor(CodeOf(err)).HTTPStatus
}
