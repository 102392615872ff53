package aio

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured AIO error with context and errno
// mapping, keyed by backend/slot/context identifiers.
type Error struct {
	Op      string    // Operation that failed (e.g., "ACQUIRE", "SUBMIT", "WAIT")
	Backend BackendID // Backend id (0 if not applicable)
	Slot    int32     // Slot index (-1 if not applicable)
	Code    Code      // High-level error category
	Errno   syscall.Errno
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Backend != 0 {
		parts = append(parts, fmt.Sprintf("backend=%d", e.Backend))
	}
	if e.Slot >= 0 {
		parts = append(parts, fmt.Sprintf("slot=%d", e.Slot))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("aio: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("aio: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(sentinelError); ok {
		return e.Code == se.code
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Code represents high-level error categories, the error taxonomy of
// spec §7.
type Code string

const (
	CodeSoftFailure       Code = "soft I/O failure"
	CodeHardFailure       Code = "hard I/O failure"
	CodeSubmissionFailure Code = "submission failure"
	CodeProtocolViolation Code = "protocol invariant violation"
	CodeSlotExhausted     Code = "slot table exhausted"
	CodeBounceExhausted   Code = "bounce buffer pool exhausted"
	CodeNotRetryable      Code = "operation not retryable"
	CodeDescriptorFailure Code = "descriptor reopen failed at retry"
)

// sentinelError lets a small set of package-level error values
// (below) compare equal to a *Error of the same Code via errors.Is,
// for call sites that only need a simple equality check.
type sentinelError struct {
	code Code
}

func (s sentinelError) Error() string { return string(s.code) }

// Sentinel errors kept for call sites that only need equality checks
// alongside the structured *Error type.
var (
	ErrSlotTableExhausted    error = sentinelError{CodeSlotExhausted}
	ErrBounceBufferExhausted error = sentinelError{CodeBounceExhausted}
	ErrNotRetryable          error = sentinelError{CodeNotRetryable}
)

func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Slot: -1, Code: code, Msg: msg}
}

func NewErrorWithErrno(op string, code Code, errno syscall.Errno) *Error {
	return &Error{Op: op, Slot: -1, Code: code, Errno: errno, Msg: errno.Error()}
}

func NewSlotError(op string, slot uint32, backend BackendID, code Code, msg string) *Error {
	return &Error{Op: op, Slot: int32(slot), Backend: backend, Code: code, Msg: msg}
}

func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ae, ok := inner.(*Error); ok {
		return &Error{Op: op, Backend: ae.Backend, Slot: ae.Slot, Code: ae.Code, Errno: ae.Errno, Msg: ae.Msg, Inner: ae.Inner}
	}
	code := CodeHardFailure
	if errno, ok := inner.(syscall.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{Op: op, Slot: -1, Code: code, Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Slot: -1, Code: code, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.EAGAIN, syscall.EINTR:
		return CodeSoftFailure
	case syscall.EINVAL, syscall.EBADF:
		return CodeProtocolViolation
	default:
		return CodeHardFailure
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code Code) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Errno == errno
	}
	return false
}
