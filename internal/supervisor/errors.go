package supervisor

import (
	"errors"
	"fmt"
)

// Fatal error codes.
const (
	ErrCodeUnknownJob       = "UNKNOWN_JOB"
	ErrCodeUntrackedProcess = "UNTRACKED_PROCESS"
	ErrCodeUnmanagedProcess = "UNMANAGED_PROCESS"
)

// FatalError is unrecoverable misuse that must reach the operator:
// an unknown job id, replacing a pid the job does not track, or
// restarting a pid no job owns.
type FatalError struct {
	Code    string
	Message string
	Cause   error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// NewFatalError creates a FatalError.
func NewFatalError(code, message string, cause error) *FatalError {
	return &FatalError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsFatal reports whether err is or wraps a FatalError, optionally with one of codes.
func IsFatal(err error, codes ...string) bool {
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, code := range codes {
		if fatal.Code == code {
			return true
		}
	}
	return false
}
