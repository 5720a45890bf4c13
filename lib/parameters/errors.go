package parameters

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
	return fmt.Sprintf("parameter error (%s): %s", e.Code, e.Msg)
}

// Is matches sentinels (errors without message) by code.
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
	RetCLayer    RetCode = iota + 1 // 1: A layer file could not be read, parsed or written.
	RetCMissing                     // 2: A required layer file or identity is missing.
	RetCConflict                    // 3: A persisted value is shadowed by a layer of higher precedence.
)

func (c RetCode) String() string {
	switch c {
	case RetCLayer:
		return "Layer"
	case RetCMissing:
		return "Missing"
	case RetCConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrLayer    = &Error{Code: RetCLayer}
	ErrMissing  = &Error{Code: RetCMissing}
	ErrConflict = &Error{Code: RetCConflict}
)
