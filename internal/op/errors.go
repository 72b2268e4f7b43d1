package op

import (
	"errors"
	"fmt"
)

// Error is a categorized pipeline error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OperationID identifies the affected request, when there is one.
	OperationID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeInitialization means the transition table is missing or
	// malformed. It is fatal and surfaces synchronously at start.
	ErrCodeInitialization ErrorCode = "INITIALIZATION"

	// ErrCodeConnection means the storage session could not be opened or was
	// lost. It is absorbed by the retry manager until retries run out.
	ErrCodeConnection ErrorCode = "CONNECTION"

	// ErrCodeQuery means a single statement failed. Only its request fails.
	ErrCodeQuery ErrorCode = "QUERY"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.OperationID != "" {
		return fmt.Sprintf("%s: %s (operation=%s)", e.Code, msg, e.OperationID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewInitializationError wraps err as an initialization failure.
func NewInitializationError(msg string, err error) *Error {
	return &Error{Code: ErrCodeInitialization, Message: msg, Err: err}
}

// NewConnectionError wraps err as a connection failure.
func NewConnectionError(msg string, err error) *Error {
	return &Error{Code: ErrCodeConnection, Message: msg, Err: err}
}

// NewQueryError wraps err as the failure of operation id.
func NewQueryError(id string, err error) *Error {
	return &Error{Code: ErrCodeQuery, Message: "query failed", OperationID: id, Err: err}
}

// IsInitializationError reports whether err is an initialization failure.
// Uses errors.As to handle wrapped errors.
func IsInitializationError(err error) bool {
	return hasCode(err, ErrCodeInitialization)
}

// IsConnectionError reports whether err is a connection failure.
func IsConnectionError(err error) bool {
	return hasCode(err, ErrCodeConnection)
}

// IsQueryError reports whether err is a query failure.
func IsQueryError(err error) bool {
	return hasCode(err, ErrCodeQuery)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
