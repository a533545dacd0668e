// Package errors defines the typed error every layer returns to the HTTP
// edge. A Code decides the status, whether the caller's message is shown and
// whether details go out with it.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeOutOfStock         Code = "OUT_OF_STOCK"
	CodeInsufficientStock  Code = "INSUFFICIENT_STOCK"
	CodeInvalidWarranty    Code = "INVALID_WARRANTY"
	CodeEmptyCart          Code = "EMPTY_CART"
	CodeProductUnavailable Code = "PRODUCT_UNAVAILABLE"
	CodeInvalidState       Code = "INVALID_STATE"
)

// Metadata is how a Code surfaces over HTTP.
type Metadata struct {
	HTTPStatus    int
	Retryable     bool
	PublicMessage string
	// ExposeMessage shows the caller's message instead of PublicMessage.
	ExposeMessage bool
	// DetailsAllowed sends Error.Details to the client.
	DetailsAllowed bool
}

// exposed and detailed are shorthands for the table below.
func exposed(status int, public string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, ExposeMessage: true}
}

func detailed(status int, public string) Metadata {
	m := exposed(status, public)
	m.DetailsAllowed = true
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    detailed(http.StatusBadRequest, "validation failed"),
	CodeUnauthorized:  exposed(http.StatusUnauthorized, "authentication required"),
	CodeForbidden:     exposed(http.StatusForbidden, "access denied"),
	CodeNotFound:      exposed(http.StatusNotFound, "resource not found"),
	CodeConflict:      exposed(http.StatusConflict, "conflict detected"),
	CodeStateConflict: detailed(http.StatusUnprocessableEntity, "state transition disallowed"),
	CodeIdempotency:   detailed(http.StatusConflict, "idempotency key reused"),
	CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, Retryable: true, PublicMessage: "rate limit exceeded", ExposeMessage: true},
	CodeInternal:      {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:    {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},

	CodeOutOfStock:         detailed(http.StatusConflict, "product is out of stock"),
	CodeInsufficientStock:  detailed(http.StatusConflict, "insufficient stock"),
	CodeInvalidWarranty:    detailed(http.StatusBadRequest, "invalid warranty package"),
	CodeEmptyCart:          exposed(http.StatusUnprocessableEntity, "cart is empty"),
	CodeProductUnavailable: detailed(http.StatusConflict, "product unavailable"),
	CodeInvalidState:       detailed(http.StatusUnprocessableEntity, "operation not allowed in current state"),
}

// MetadataFor treats unknown codes as CodeInternal.
func MetadataFor(code Code) Metadata {
	meta, ok := metadataByCode[code]
	if !ok {
		return metadataByCode[CodeInternal]
	}
	return meta
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap keeps err as the cause; a nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Code of a nil *Error is CodeInternal.
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

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details on e and returns it for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func CodeOf(err error) Code {
	return As(err).Code()
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for typed := As(err); typed != nil; typed = As(typed.cause) {
		if typed.code == code {
			return true
		}
	}
	return false
}
