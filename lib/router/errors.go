package router

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
	return fmt.Sprintf("router error (%s): %s", e.Code, e.Msg)
}

// Is matches on the return code if target is a sentinel without message.
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
	RetCNoSuchPath    RetCode = iota + 1 // 1: No mount or no value at the path.
	RetCDecode                           // 2: A written value does not fit the shape at the path.
	RetCMountConflict                    // 3: A mount point is registered twice.
	RetCNotWritable                      // 4: The mount at the path has no sink.
	RetCNotReadable                      // 5: The mount at the path has no source.
	RetCClosed                           // 6: The router or the subscription was closed.
)

func (c RetCode) String() string {
	switch c {
	case RetCNoSuchPath:
		return "NoSuchPath"
	case RetCDecode:
		return "Decode"
	case RetCMountConflict:
		return "MountConflict"
	case RetCNotWritable:
		return "NotWritable"
	case RetCNotReadable:
		return "NotReadable"
	case RetCClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrNoSuchPath    = &Error{Code: RetCNoSuchPath}
	ErrDecode        = &Error{Code: RetCDecode}
	ErrMountConflict = &Error{Code: RetCMountConflict}
	ErrNotWritable   = &Error{Code: RetCNotWritable}
	ErrNotReadable   = &Error{Code: RetCNotReadable}
	ErrClosed        = &Error{Code: RetCClosed}
)
