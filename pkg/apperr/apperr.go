package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error discriminator sent to clients.
type Code string

const (
	MissingParameter  Code = "missing_parameter"
	MissingID         Code = "missing_id"
	MissingField      Code = "missing_field"
	NotAuthenticated  Code = "not_authenticated"
	BackendError      Code = "backend_error"
	SQLExecutionError Code = "sql_execution_error"
	DatabaseError     Code = "database_error"
	NoParentQuestion  Code = "no_parent_question"
	CacheError        Code = "cache_error"
	NotFound          Code = "not_found"
	BudgetExceeded    Code = "budget_exceeded"
	BodyTooLarge      Code = "body_too_large"
)

// Error wraps an underlying error with a code, an HTTP status and a safe message.
type Error struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the provided information.
func New(code Code, status int, message string, err error) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// From returns the *Error in err's chain, or a generic backend error wrapping err.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Backend(err)
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func MissingParam(name string) *Error {
	return New(MissingParameter, http.StatusBadRequest, fmt.Sprintf("No %s provided", name), nil)
}

func NoID() *Error {
	return New(MissingID, http.StatusBadRequest, "No id provided", nil)
}

func NoField(field string) *Error {
	return New(MissingField, http.StatusBadRequest, fmt.Sprintf("No %s found", field), nil)
}

func NoParent() *Error {
	return New(NoParentQuestion, http.StatusBadRequest, "No parent question ID available", nil)
}

func Unauthenticated() *Error {
	return New(NotAuthenticated, http.StatusUnauthorized, "not authenticated", nil)
}

// Backend hides the cause from clients; upstream bodies can end up in err.
func Backend(err error) *Error {
	return New(BackendError, http.StatusInternalServerError, "backend request failed", err)
}

// SQLExecution keeps the driver message visible so the user can fix the query.
func SQLExecution(err error) *Error {
	return New(SQLExecutionError, http.StatusBadRequest, err.Error(), err)
}

func Database(message string, err error) *Error {
	return New(DatabaseError, http.StatusInternalServerError, message, err)
}

func Cache(err error) *Error {
	return New(CacheError, http.StatusInternalServerError, "cache operation failed", err)
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, http.StatusNotFound, fmt.Sprintf(format, args...), nil)
}

func Budget(err error) *Error {
	return New(BudgetExceeded, http.StatusTooManyRequests, "token budget exceeded", err)
}

func TooLarge(err error) *Error {
	return New(BodyTooLarge, http.StatusRequestEntityTooLarge, "request body too large", err)
}
