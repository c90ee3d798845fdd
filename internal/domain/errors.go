package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound device, link, record or session absent
	ErrNotFound = errors.New("not found")
	// ErrValidation out-of-range or malformed input, rejected before any write
	ErrValidation = errors.New("validation failed")
	// ErrCooldown action rejected while its debounce window is active
	ErrCooldown = errors.New("action cooling down")
	// ErrTransport store read/write/subscribe failure
	ErrTransport = errors.New("store transport failure")
	// ErrSignalingFailure peer connection reported failed
	ErrSignalingFailure = errors.New("signaling failure")
	// ErrAlreadyLinked device owned by another user (single-owner policy)
	ErrAlreadyLinked = errors.New("device already linked to another user")
)

// ValidationError describes the offending field
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// CooldownError carries the remaining lockout for UI countdowns
type CooldownError struct {
	Type      ActuatorType
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s action cooling down, %s remaining", e.Type, e.Remaining.Round(time.Millisecond))
}

func (e *CooldownError) Unwrap() error { return ErrCooldown }

// RemainingSeconds rounds up, so a UI never shows 0 while still locked
func (e *CooldownError) RemainingSeconds() int {
	secs := int(e.Remaining / time.Second)
	if e.Remaining%time.Second > 0 {
		secs++
	}
	return secs
}

// TransportError wraps a failed store operation
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap matches both ErrTransport and the underlying cause
func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// NewTransportError wraps err unless it is nil
func NewTransportError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Path: path, Err: err}
}

// SignalingError terminal failure of a signaling session
type SignalingError struct {
	Reason string
	Err    error
}

func (e *SignalingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signaling failed: %s: %v", e.Reason, e.Err)
	}
	return "signaling failed: " + e.Reason
}

func (e *SignalingError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSignalingFailure}
	}
	return []error{ErrSignalingFailure, e.Err}
}
