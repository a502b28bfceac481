package mux

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMethodNotAllowed is returned by route resolution when the request
	// method has no registered routes at all.
	ErrMethodNotAllowed = errors.New("mux: method not allowed")

	// ErrNotFound is returned by route resolution when no route contributed
	// handlers for the request.
	ErrNotFound = errors.New("mux: no matching route was found")

	// ErrStackExhausted is reported when a chain runs past its last step
	// without producing a response.
	ErrStackExhausted = errors.New("mux: bottom of stack, no terminal handler")

	// ErrInvalidPattern wraps pattern compile failures.
	ErrInvalidPattern = errors.New("mux: invalid route pattern")

	// ErrNoHandlers is raised when a route is registered without handlers.
	ErrNoHandlers = errors.New("mux: route has no handlers")

	// ErrMountCycle is returned when mounting would make a pipeline its own
	// ancestor.
	ErrMountCycle = errors.New("mux: mount cycle")

	// ErrAlreadyMounted is returned when a pipeline already has a parent.
	ErrAlreadyMounted = errors.New("mux: pipeline is already mounted")
)

// StatusError is an error carrying the HTTP status it should be answered
// with when it reaches a pipeline boundary.
type StatusError struct {
	Code int
	Err  error
}

// NewStatusError returns a StatusError for code. A nil err uses the
// status text as message.
func NewStatusError(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
	}
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode returns the status carried by err. Errors without a status
// map to 500.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code <= 599 {
		return se.Code
	}
	return http.StatusInternalServerError
}

// PanicError is the error recorded when a chain step panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("mux: panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
