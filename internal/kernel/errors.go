package kernel

import (
	"errors"
	"fmt"
)

// Error represents an infrastructure failure of the kernel session.
//
// Infrastructure failures are fatal to the remaining cells of the notebook:
// cell execution is cumulative within one kernel session, so once the kernel
// is gone or wedged, later cells cannot be meaningfully executed. They are
// reported distinctly from content mismatches so a caller can tell
// "environment broke" from "behavior regressed".
type Error struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// CellIndex is the one-based code cell number being executed, if any.
	CellIndex int

	// Err is the underlying cause (transport error, context error).
	Err error
}

// ErrorCode categorizes kernel session failures.
type ErrorCode string

const (
	// CodeTimeout indicates the per-cell wall-clock timeout elapsed.
	CodeTimeout ErrorCode = "KERNEL_TIMEOUT"

	// CodeDied indicates the kernel process or its transport failed
	// mid-execution.
	CodeDied ErrorCode = "KERNEL_DIED"

	// CodeStartup indicates the kernel never became ready within the
	// startup timeout.
	CodeStartup ErrorCode = "KERNEL_STARTUP"

	// CodeProtocol indicates a malformed or unexpected protocol message.
	CodeProtocol ErrorCode = "KERNEL_PROTOCOL"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.CellIndex > 0 {
		return fmt.Sprintf("%s: %s (cell %d)", e.Code, e.Message, e.CellIndex)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a per-cell timeout.
func IsTimeout(err error) bool {
	var ke *Error
	return errors.As(err, &ke) && ke.Code == CodeTimeout
}

// IsDead reports whether err indicates the kernel is gone (death, startup
// failure, or unrecoverable protocol error).
func IsDead(err error) bool {
	var ke *Error
	if !errors.As(err, &ke) {
		return false
	}
	return ke.Code == CodeDied || ke.Code == CodeStartup || ke.Code == CodeProtocol
}

// IsInfrastructure reports whether err is any kernel infrastructure failure.
func IsInfrastructure(err error) bool {
	var ke *Error
	return errors.As(err, &ke)
}
