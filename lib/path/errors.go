package path

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code and an error message.
type Error struct {
	Code RetCode
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("path error (%s): %s", e.Code, e.Msg)
}

// Is makes errors.Is match on the return code, so callers can test against the sentinel values.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code && other.Msg == ""
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCInvalidPath  RetCode = iota + 1 // 1: The path string is malformed.
	RetCNoSuchPath                      // 2: The path does not address an existing value.
	RetCTypeMismatch                    // 3: A value does not have the shape required at the path.
)

func (c RetCode) String() string {
	switch c {
	case RetCInvalidPath:
		return "InvalidPath"
	case RetCNoSuchPath:
		return "NoSuchPath"
	case RetCTypeMismatch:
		return "TypeMismatch"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrInvalidPath  = &Error{Code: RetCInvalidPath}
	ErrNoSuchPath   = &Error{Code: RetCNoSuchPath}
	ErrTypeMismatch = &Error{Code: RetCTypeMismatch}
)
