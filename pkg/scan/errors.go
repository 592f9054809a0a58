package scan

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidTransition is returned when an operation is invoked from a
	// state that does not accept it. The state is left unchanged.
	ErrInvalidTransition = errors.New("scan: invalid transition")

	// ErrNoProvider is returned by Start when the controller has no provider.
	ErrNoProvider = errors.New("scan: no capability provider")
)

// TransitionError describes a rejected operation.
type TransitionError struct {
	Op   string
	From State
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("scan: invalid transition: %s from %s", e.Op, e.From)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CaptureReason classifies why a session failed.
type CaptureReason string

const (
	ReasonHardwareFault         CaptureReason = "hardware_fault"
	ReasonLowQuality            CaptureReason = "low_quality"
	ReasonCancelled             CaptureReason = "cancelled"
	ReasonTimeout               CaptureReason = "timeout"
	ReasonPermissionUnavailable CaptureReason = "permission_unavailable"
	ReasonUnknown               CaptureReason = "unknown"
)

// CaptureError is the failure attached to a Failed session.
type CaptureError struct {
	Reason CaptureReason
	Err    error
}

// NewCaptureError creates a CaptureError with an optional cause.
func NewCaptureError(reason CaptureReason, cause error) *CaptureError {
	return &CaptureError{Reason: reason, Err: cause}
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan: capture failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("scan: capture failed (%s)", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *CaptureError) Unwrap() error {
	return e.Err
}

// AsCaptureError maps any provider error onto a CaptureError.
// Context expiry becomes ReasonTimeout and context cancellation ReasonCancelled.
func AsCaptureError(err error) *CaptureError {
	if err == nil {
		return nil
	}
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewCaptureError(ReasonTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewCaptureError(ReasonCancelled, err)
	}
	return NewCaptureError(ReasonUnknown, err)
}

// ReasonOf returns the CaptureReason carried by err, or "" if none.
func ReasonOf(err error) CaptureReason {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
