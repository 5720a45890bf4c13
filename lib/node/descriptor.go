package node

import (
	"fmt"
	"sort"
	"sync"
)

// Node is a unit of computation. It is created once per cycler instance and then cycled on the
// cycler's goroutine. A node must not keep references to its context after Cycle returns.
type Node interface {
	Cycle(ctx *CycleContext) error
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx *CycleContext) error

// Cycle implements Node.
func (f NodeFunc) Cycle(ctx *CycleContext) error {
	return f(ctx)
}

// --------------------------------------------------------------------------
// Descriptor
// --------------------------------------------------------------------------

// InputKind selects where an input is read from.
type InputKind int

const (
	// InputLocal reads a main output produced earlier in the same cycle of the same cycler.
	InputLocal InputKind = iota
	// InputPeer reads a main output of the latest completed cycle of another cycler.
	InputPeer
	// InputHistoric reads a past main output of the own (real-time) cycler by timestamp.
	InputHistoric
	// InputPerception reads the perception items of a perception cycler.
	InputPerception
)

func (k InputKind) String() string {
	switch k {
	case InputLocal:
		return "local"
	case InputPeer:
		return "peer"
	case InputHistoric:
		return "historic"
	case InputPerception:
		return "perception"
	default:
		return "unknown"
	}
}

// InputBinding declares one input binding of a node.
type InputBinding struct {
	// Name is the binding name the node uses with the accessors.
	Name string
	Kind InputKind
	// Cycler is the producing cycler instance of peer and perception inputs.
	Cycler string
	// Output is the main output name at the producer. Empty means Name.
	Output string
	// Required inputs fail the cycle when they are absent.
	Required bool
}

// OutputName returns the main output name at the producer.
func (i InputBinding) OutputName() string {
	if i.Output != "" {
		return i.Output
	}
	return i.Name
}

// Output declares an output of a node. Type is a zero value of the output's Go type; it is used to
// describe the output's paths and to check the values a node sets.
type Output struct {
	Name string
	Type any
}

// Descriptor describes everything the runtime needs to know about a node to bind its contexts.
type Descriptor struct {
	Name string
	// Source is the file the node is implemented in (informational).
	Source string

	// Parameters lists the parameter paths (relative to the parameter root) the node reads.
	// Accesses below a declared path are allowed.
	Parameters []string

	Inputs            []InputBinding
	MainOutputs       []Output
	AdditionalOutputs []Output
	PersistentState   []string
	CyclerState       []string

	// New creates the node. It runs on the cycler goroutine before the first cycle.
	New func(ctx *CreationContext) (Node, error)
}

func (d *Descriptor) input(name string) (InputBinding, bool) {
	for _, in := range d.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputBinding{}, false
}

func findOutput(outputs []Output, name string) (Output, bool) {
	for _, o := range outputs {
		if o.Name == name {
			return o, true
		}
	}
	return Output{}, false
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Validate checks a descriptor for internal consistency.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return NewAssemblyError(RetCInvalid, "", "", "node without name")
	}
	if d.New == nil {
		return NewAssemblyError(RetCInvalid, "", d.Name, "node without constructor")
	}
	seen := map[string]bool{}
	for _, in := range d.Inputs {
		if seen[in.Name] {
			return NewAssemblyError(RetCInvalid, "", d.Name, fmt.Sprintf("input %q declared twice", in.Name))
		}
		seen[in.Name] = true
		if (in.Kind == InputPeer || in.Kind == InputPerception) && in.Cycler == "" {
			return NewAssemblyError(RetCInvalid, "", d.Name, fmt.Sprintf("%s input %q names no cycler", in.Kind, in.Name))
		}
	}
	for _, outputs := range [][]Output{d.MainOutputs, d.AdditionalOutputs} {
		names := map[string]bool{}
		for _, o := range outputs {
			if names[o.Name] {
				return NewAssemblyError(RetCDuplicateOutput, "", d.Name, fmt.Sprintf("output %q declared twice", o.Name))
			}
			names[o.Name] = true
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry maps node names to descriptors. Manifests reference nodes by name.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Names must be unique.
func (r *Registry) Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[d.Name]; ok {
		return NewAssemblyError(RetCInvalid, "", d.Name, "node registered twice")
	}
	r.nodes[d.Name] = d
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(descriptors ...*Descriptor) {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the descriptor of a node.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.nodes[name]
	if !ok {
		return nil, NewAssemblyError(RetCUnknownNode, "", name, "node is not registered")
	}
	return d, nil
}

// Names returns all registered node names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
