package engine

import (
	"errors"
	"fmt"
)

// Code identifies one of the engine's participant-facing failure modes.
// Every code is returned synchronously to the originating participant only
// and never disturbs other participants' state.
type Code string

const (
	CodeSessionFull      Code = "SESSION_FULL"
	CodeSessionClosed    Code = "SESSION_CLOSED"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeNotLockHolder    Code = "NOT_LOCK_HOLDER"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeBusy             Code = "BUSY"
	CodeValidation       Code = "VALIDATION_ERROR"
)

type Error struct {
	Code    Code
	Message string
	Details any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, message string, details any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// IsCode reports whether err is an engine error carrying the given code.
func IsCode(err error, code Code) bool {
	var engineErr *Error
	return errors.As(err, &engineErr) && engineErr.Code == code
}

// ConflictDetails is attached to CONFLICT errors raised by a stale change
// proposal. It carries the authoritative view the client must resync to.
type ConflictDetails struct {
	FileID          string `json:"fileId"`
	CurrentRevision int64  `json:"currentRevision"`
	Content         string `json:"content"`
}

// LockConflictDetails is attached to CONFLICT errors raised by an acquire
// attempt on a file locked by someone else.
type LockConflictDetails struct {
	FileID string `json:"fileId"`
	Holder string `json:"holder"`
}
