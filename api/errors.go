// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-probe.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the module.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotSupported      = errors.New("operation not supported")
	ErrExecutorClosed    = errors.New("executor is closed")
	ErrShutdownRequested = errors.New("shutdown requested")
	ErrNotStarted        = errors.New("server not started")
	ErrAlreadyRunning    = errors.New("server already running")
)

// ErrorCode classifies failures by how far they propagate.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	// ErrCodeBind is fatal at startup.
	ErrCodeBind
	// ErrCodeProbeTransport is absorbed into a failed aggregate slot.
	ErrCodeProbeTransport
	// ErrCodeConnectionIO tears down a single connection.
	ErrCodeConnectionIO
	ErrCodeInvalidArgument
	ErrCodeInternal
)

// String returns the short name of the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeBind:
		return "bind"
	case ErrCodeProbeTransport:
		return "probe_transport"
	case ErrCodeConnectionIO:
		return "connection_io"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Err = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// NewBindError reports that addr could not be bound or listened on.
func NewBindError(addr string, cause error) *Error {
	return WrapError(ErrCodeBind, "could not create a listener", cause).WithContext("addr", addr)
}
