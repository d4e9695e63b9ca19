package control

import (
	"errors"
	"fmt"
)

// Error codes for rejected instructions.
const (
	ErrCodeInvalidInstruction = "INVALID_INSTRUCTION"
	ErrCodeNotSupported       = "NOT_SUPPORTED"
)

// Error is an instruction the protocol refused to apply.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidInstruction, Message: fmt.Sprintf(format, args...)}
}

func unsupported(format string, args ...any) *Error {
	return &Error{Code: ErrCodeNotSupported, Message: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err is a protocol Error with the given code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
