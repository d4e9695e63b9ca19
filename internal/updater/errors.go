package updater

import (
	"errors"
	"fmt"
)

// Op names the update operation that failed.
type Op string

// Update operations.
const (
	OpCheck    Op = "check"
	OpApply    Op = "apply"
	OpRollback Op = "rollback"
)

// Error codes for update operations.
const (
	ErrCodeDisabled       = "DISABLED"
	ErrCodeInvalidState   = "INVALID_STATE"
	ErrCodeCheckFailed    = "CHECK_FAILED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeNoUpdate       = "NO_UPDATE"
	ErrCodeBackupFailed   = "BACKUP_FAILED"
	ErrCodeApplyFailed    = "APPLY_FAILED"
	ErrCodeNoBackup       = "NO_BACKUP"
	ErrCodeRollbackFailed = "ROLLBACK_FAILED"
)

// Error is a failed update operation. The running binary is untouched
// unless Code is ErrCodeApplyFailed, in which case an automatic rollback
// was attempted.
type Error struct {
	Op      Op
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("update %s: %s: %s", e.Op, e.Code, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsError reports whether err is or wraps an update Error, optionally with
// one of codes.
func IsError(err error, codes ...string) bool {
	var updateErr *Error
	if !errors.As(err, &updateErr) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, code := range codes {
		if updateErr.Code == code {
			return true
		}
	}
	return false
}

func newError(op Op, code, message string, cause error) *Error {
	return &Error{Op: op, Code: code, Message: message, Cause: cause}
}
