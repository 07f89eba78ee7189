package syssetting

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shaban/syssetting/bridge"
)

var (
	// ErrPermissionDenied matches both refused writes and failed permission queries.
	ErrPermissionDenied = errors.New("write settings permission denied")
	// ErrOutOfRange is returned for levels outside [0, 1].
	ErrOutOfRange = errors.New("value out of range")
	// ErrAlreadyListening is returned by StartListening on an active session.
	ErrAlreadyListening = errors.New("session is already listening")
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("session controller is closed")
	// ErrUnsupportedKind aliases the bridge error so callers need one import.
	ErrUnsupportedKind = bridge.ErrUnsupportedKind
)

// ErrorHandler receives non-fatal errors that the controller contains
// instead of propagating, such as failed reads during a refresh.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler logs errors with the standard logger
type DefaultErrorHandler struct{}

// HandleError implements ErrorHandler
func (h *DefaultErrorHandler) HandleError(err error) {
	log.Printf("syssetting: %v", err)
}

// LoggingErrorHandler wraps another handler and logs errors
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     func(error)
}

// NewLoggingErrorHandler creates a new logging error handler
func NewLoggingErrorHandler(underlying ErrorHandler, logger func(error)) *LoggingErrorHandler {
	return &LoggingErrorHandler{
		underlying: underlying,
		logger:     logger,
	}
}

// HandleError implements ErrorHandler interface with logging
func (h *LoggingErrorHandler) HandleError(err error) {
	if h.logger != nil {
		h.logger(err)
	}
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}

// PanicErrorHandler panics on any error (useful for development)
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler interface by panicking
func (h *PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("syssetting error: %v", err))
}

// ReadError reports a failed read of one setting. The snapshot keeps its
// previous value for that kind.
type ReadError struct {
	Kind bridge.Kind
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %v: %v", e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// PermissionDeniedError reports a write refused for lack of the
// write-settings permission. Grant opens the platform flow that lets the
// user fix it.
type PermissionDeniedError struct {
	Kind bridge.Kind
	// Attempted is false when the write was skipped without contacting the bridge.
	Attempted bool
	// Err is the bridge's rejection, if it returned one.
	Err   error
	grant func(context.Context) error
}

func (e *PermissionDeniedError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("set %v: platform rejected the write: %v: %v", e.Kind, ErrPermissionDenied, e.Err)
	case e.Attempted:
		return fmt.Sprintf("set %v: platform refused the write: %v", e.Kind, ErrPermissionDenied)
	}
	return fmt.Sprintf("set %v: %v", e.Kind, ErrPermissionDenied)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

func (e *PermissionDeniedError) Unwrap() error { return e.Err }

// Grant runs the remediation action.
func (e *PermissionDeniedError) Grant(ctx context.Context) error {
	if e.grant == nil {
		return fmt.Errorf("no permission grant flow available")
	}
	return e.grant(ctx)
}

// PermissionQueryError reports that the permission state could not be read.
// The session treats it as a denial.
type PermissionQueryError struct {
	Err error
}

func (e *PermissionQueryError) Error() string {
	return fmt.Sprintf("check write settings permission: %v", e.Err)
}

func (e *PermissionQueryError) Unwrap() []error { return []error{e.Err, ErrPermissionDenied} }
