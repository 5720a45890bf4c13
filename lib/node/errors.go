package node

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Assembly Errors
// --------------------------------------------------------------------------

// AssemblyError is returned while the node graph of a cycler is built. It is always fatal.
type AssemblyError struct {
	Code   RetCode
	Cycler string
	Node   string
	Msg    string
}

// Error implements the error interface.
func (e *AssemblyError) Error() string {
	switch {
	case e.Cycler != "" && e.Node != "":
		return fmt.Sprintf("assembly error (%s) in %s.%s: %s", e.Code, e.Cycler, e.Node, e.Msg)
	case e.Cycler != "":
		return fmt.Sprintf("assembly error (%s) in %s: %s", e.Code, e.Cycler, e.Msg)
	default:
		return fmt.Sprintf("assembly error (%s): %s", e.Code, e.Msg)
	}
}

// Is matches sentinels (errors without message) by code.
func (e *AssemblyError) Is(target error) bool {
	var other *AssemblyError
	if errors.As(target, &other) {
		return other.Code == e.Code && other.Msg == ""
	}
	return false
}

// NewAssemblyError creates a new AssemblyError.
func NewAssemblyError(code RetCode, cycler, node, msg string) *AssemblyError {
	return &AssemblyError{Code: code, Cycler: cycler, Node: node, Msg: msg}
}

type RetCode uint64

const (
	RetCCycle            RetCode = iota + 1 // 1: The dependency graph contains a cycle.
	RetCMissingProducer                     // 2: A required input has no producing node.
	RetCDuplicateOutput                     // 3: Two nodes declare the same main output.
	RetCUnknownNode                         // 4: A node name is not registered.
	RetCMissingParameter                    // 5: A declared parameter path does not exist.
	RetCInvalid                             // 6: The manifest or a descriptor is malformed.
)

func (c RetCode) String() string {
	switch c {
	case RetCCycle:
		return "Cycle"
	case RetCMissingProducer:
		return "MissingProducer"
	case RetCDuplicateOutput:
		return "DuplicateOutput"
	case RetCUnknownNode:
		return "UnknownNode"
	case RetCMissingParameter:
		return "MissingParameter"
	case RetCInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrCycle            = &AssemblyError{Code: RetCCycle}
	ErrMissingProducer  = &AssemblyError{Code: RetCMissingProducer}
	ErrDuplicateOutput  = &AssemblyError{Code: RetCDuplicateOutput}
	ErrUnknownNode      = &AssemblyError{Code: RetCUnknownNode}
	ErrMissingParameter = &AssemblyError{Code: RetCMissingParameter}
	ErrInvalid          = &AssemblyError{Code: RetCInvalid}
)

// --------------------------------------------------------------------------
// Context Errors
// --------------------------------------------------------------------------

var (
	// ErrUndeclared is returned when a node accesses a context field it did not declare.
	ErrUndeclared = errors.New("node: field not declared")
	// ErrAbsent is returned when a required input has no value in this cycle.
	ErrAbsent = errors.New("node: required input absent")
	// ErrType is returned when a value does not have the requested type.
	ErrType = errors.New("node: type mismatch")
)
