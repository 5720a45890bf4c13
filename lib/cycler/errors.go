package cycler

import "fmt"

// CycleError is returned when a cycle fails. Non-fatal errors only skip the publication of the
// cycle, fatal errors stop the cycler and cancel the runtime.
type CycleError struct {
	Cycler string
	Node   string
	Fatal  bool
	Err    error
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	kind := "cycle error"
	if e.Fatal {
		kind = "fatal cycle error"
	}
	if e.Node == "" {
		return fmt.Sprintf("%s in %s: %v", kind, e.Cycler, e.Err)
	}
	return fmt.Sprintf("%s in %s.%s: %v", kind, e.Cycler, e.Node, e.Err)
}

// Unwrap returns the node's error.
func (e *CycleError) Unwrap() error {
	return e.Err
}
