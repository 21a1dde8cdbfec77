package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError independently of its wire code.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidState      Kind = "INVALID_STATE"
	KindIllegalTransition Kind = "ILLEGAL_TRANSITION"
	KindStaleState        Kind = "STALE_STATE"
	KindAuthorization     Kind = "AUTHORIZATION"
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindValidation        Kind = "VALIDATION"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindInternal          Kind = "INTERNAL"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Kind       Kind              `json:"-"`
	Code       string            `json:"error_code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"` // Wrapped internal error (not exposed to client)
	Context    map[string]string `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// With attaches a structured context field and returns the same error.
func (e *AppError) With(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// New creates a new AppError.
func New(kind Kind, code string, message string, httpStatus int) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(kind Kind, code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Is reports whether err (or anything it wraps) is an AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// ---- Escrow (ESC) ----

func ErrNotFound(entity string, id string) *AppError {
	return New(KindNotFound, "ESC_404", fmt.Sprintf("%s not found", entity), http.StatusNotFound).
		With("entity", entity).
		With("id", id)
}

func ErrInvalidState(message string) *AppError {
	return New(KindInvalidState, "ESC_409", message, http.StatusConflict)
}

func ErrIllegalTransition(from, to string) *AppError {
	return New(KindIllegalTransition, "ESC_422",
		fmt.Sprintf("Escrow cannot move from %s to %s", from, to), http.StatusUnprocessableEntity).
		With("from", from).
		With("to", to)
}

func ErrStaleState(orderID, expected, actual string) *AppError {
	return New(KindStaleState, "ESC_412", "Order status changed concurrently", http.StatusConflict).
		With("order_id", orderID).
		With("expected", expected).
		With("actual", actual)
}

// ---- Authentication & Authorization (AUTH) ----

func ErrForbidden(message string) *AppError {
	return New(KindAuthorization, "AUTH_403", message, http.StatusForbidden)
}

func ErrInvalidToken() *AppError {
	return New(KindUnauthenticated, "AUTH_401", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New(KindUnauthenticated, "AUTH_401", "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New(KindUnauthenticated, "AUTH_401", "Request timestamp expired", http.StatusUnauthorized)
}

func ErrNonceUsed() *AppError {
	return New(KindUnauthenticated, "AUTH_401", "Nonce has already been used", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(KindRateLimited, "RATE_429", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_500 error.
func InternalError(err error) *AppError {
	return Wrap(KindInternal, "SYS_500", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_400 validation error.
func Validation(message string) *AppError {
	return New(KindValidation, "VAL_400", message, http.StatusBadRequest)
}
