package node

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ValentinKolb/dCycle/lib/database"
	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/historic"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/path"
	"github.com/ValentinKolb/dCycle/lib/perception"
)

// --------------------------------------------------------------------------
// Parameter Access
// --------------------------------------------------------------------------

type cacheKey struct {
	path string
	typ  reflect.Type
}

// ParameterCache memoizes decoded parameters of one cycler for one snapshot version.
type ParameterCache struct {
	version uint64
	values  map[cacheKey]any
}

// NewParameterCache creates an empty cache.
func NewParameterCache() *ParameterCache {
	return &ParameterCache{values: make(map[cacheKey]any)}
}

// ParameterContext is implemented by both the creation and the cycle context.
type ParameterContext interface {
	parameterAccess() (*Descriptor, *parameters.Snapshot, *ParameterCache)
}

func declaresParameter(d *Descriptor, p string) bool {
	for _, declared := range d.Parameters {
		if p == declared || strings.HasPrefix(p, declared+".") {
			return true
		}
	}
	return false
}

// Parameter decodes the parameter at p (relative to the parameter root) into T.
// The path must be declared by the node, or lie below a declared path.
func Parameter[T any](ctx ParameterContext, p string) (T, error) {
	var zero T
	d, snapshot, cache := ctx.parameterAccess()
	if !declaresParameter(d, p) {
		return zero, fmt.Errorf("parameter %q of %s: %w", p, d.Name, ErrUndeclared)
	}

	key := cacheKey{path: p, typ: reflect.TypeOf((*T)(nil)).Elem()}
	if cache.version != snapshot.Version {
		cache.version = snapshot.Version
		clear(cache.values)
	}
	if cached, ok := cache.values[key]; ok {
		return cached.(T), nil
	}

	parsed, err := path.Parse(p)
	if err != nil {
		return zero, err
	}
	tree, err := path.Traverse(snapshot.Tree, parsed)
	if err != nil {
		return zero, fmt.Errorf("parameter %q: %w", p, err)
	}
	value, err := path.FromTree[T](tree)
	if err != nil {
		return zero, fmt.Errorf("parameter %q: %w", p, err)
	}
	cache.values[key] = value
	return value, nil
}

// --------------------------------------------------------------------------
// Creation Context
// --------------------------------------------------------------------------

// CreationContext is passed to a node's constructor.
type CreationContext struct {
	descriptor *Descriptor
	cycler     string
	hardware   hardware.IInterface
	parameters *parameters.Snapshot
	cache      *ParameterCache
}

// NewCreationContext binds a creation context for one node.
func NewCreationContext(d *Descriptor, cycler string, hw hardware.IInterface, snapshot *parameters.Snapshot, cache *ParameterCache) *CreationContext {
	return &CreationContext{descriptor: d, cycler: cycler, hardware: hw, parameters: snapshot, cache: cache}
}

func (c *CreationContext) parameterAccess() (*Descriptor, *parameters.Snapshot, *ParameterCache) {
	return c.descriptor, c.parameters, c.cache
}

// Hardware returns the hardware interface.
func (c *CreationContext) Hardware() hardware.IInterface {
	return c.hardware
}

// Cycler returns the name of the cycler instance the node is created for.
func (c *CreationContext) Cycler() string {
	return c.cycler
}

// --------------------------------------------------------------------------
// Cycle Context
// --------------------------------------------------------------------------

// Environment is everything a cycler provides for one cycle. It is shared by all nodes of the
// cycle and rebuilt by the cycler every cycle.
type Environment struct {
	Context        context.Context
	Cycler         string
	CycleStartTime time.Time
	Hardware       hardware.IInterface

	// Own is the writer slot of the cycler.
	Own *database.Database
	// Peers holds one read slot per peer cycler instance; a nil entry means no value yet.
	Peers map[string]*database.Database

	Parameters     *parameters.Snapshot
	ParameterCache *ParameterCache

	Persistent  *database.State
	CyclerState *database.State

	// Historic and Perception are only set for the real-time cycler.
	Historic   *historic.Databases
	Perception *perception.Databases

	Requests *database.Requests
}

// CycleContext binds the Environment to the declarations of one node.
type CycleContext struct {
	descriptor *Descriptor
	env        *Environment
}

// NewCycleContext binds a cycle context for one node.
func NewCycleContext(d *Descriptor, env *Environment) *CycleContext {
	return &CycleContext{descriptor: d, env: env}
}

func (c *CycleContext) parameterAccess() (*Descriptor, *parameters.Snapshot, *ParameterCache) {
	return c.descriptor, c.env.Parameters, c.env.ParameterCache
}

// Context returns the cancellation context of the runtime. Blocking hardware receives must use it.
func (c *CycleContext) Context() context.Context {
	return c.env.Context
}

// Cycler returns the name of the cycler instance.
func (c *CycleContext) Cycler() string {
	return c.env.Cycler
}

// CycleStartTime returns the start time of the current cycle.
func (c *CycleContext) CycleStartTime() time.Time {
	return c.env.CycleStartTime
}

// Hardware returns the hardware interface.
func (c *CycleContext) Hardware() hardware.IInterface {
	return c.env.Hardware
}

func (c *CycleContext) declaredInput(name string, kinds ...InputKind) (InputBinding, error) {
	in, ok := c.descriptor.input(name)
	if !ok {
		return in, fmt.Errorf("input %q of %s: %w", name, c.descriptor.Name, ErrUndeclared)
	}
	for _, k := range kinds {
		if in.Kind == k {
			return in, nil
		}
	}
	return in, fmt.Errorf("input %q of %s is a %s input: %w", name, c.descriptor.Name, in.Kind, ErrUndeclared)
}

func typed[T any](name string, value any) (T, error) {
	v, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%q holds %T, requested %s: %w", name, value, reflect.TypeOf((*T)(nil)).Elem(), ErrType)
	}
	return v, nil
}

// Input reads a local or peer input. ok is false when the producer has not produced a value.
// For required inputs absence is an error.
func Input[T any](ctx *CycleContext, name string) (value T, ok bool, err error) {
	in, err := ctx.declaredInput(name, InputLocal, InputPeer)
	if err != nil {
		return value, false, err
	}

	var raw any
	switch in.Kind {
	case InputLocal:
		raw = ctx.env.Own.MainOutputs[in.OutputName()]
	case InputPeer:
		if peer := ctx.env.Peers[in.Cycler]; peer != nil {
			raw = peer.MainOutputs[in.OutputName()]
		}
	}
	if raw == nil {
		if in.Required {
			return value, false, fmt.Errorf("input %q of %s: %w", name, ctx.descriptor.Name, ErrAbsent)
		}
		return value, false, nil
	}
	value, err = typed[T](name, raw)
	return value, err == nil, err
}

// RequiredInput is Input for inputs that must be present.
func RequiredInput[T any](ctx *CycleContext, name string) (T, error) {
	value, ok, err := Input[T](ctx, name)
	if err == nil && !ok {
		err = fmt.Errorf("input %q of %s: %w", name, ctx.descriptor.Name, ErrAbsent)
	}
	return value, err
}

// Historic reads a main output of the own cycler as it was in the cycle started at timestamp
// (or the newest cycle before it). Timestamps at or after the current cycle start return the
// value of the current cycle.
func Historic[T any](ctx *CycleContext, name string, timestamp time.Time) (value T, ok bool, err error) {
	in, err := ctx.declaredInput(name, InputHistoric)
	if err != nil {
		return value, false, err
	}

	var raw any
	if !timestamp.Before(ctx.env.CycleStartTime) || ctx.env.Historic == nil {
		raw = ctx.env.Own.MainOutputs[in.OutputName()]
	} else {
		raw, _ = ctx.env.Historic.Lookup(timestamp, in.OutputName())
	}
	if raw == nil {
		return value, false, nil
	}
	value, err = typed[T](name, raw)
	return value, err == nil, err
}

// Perception returns the perception items of a perception input.
func Perception[T any](ctx *CycleContext, name string) (perception.View[T], error) {
	in, err := ctx.declaredInput(name, InputPerception)
	if err != nil {
		return perception.View[T]{}, err
	}
	if ctx.env.Perception == nil {
		return perception.View[T]{}, fmt.Errorf("perception input %q outside of the real-time cycler: %w", name, ErrUndeclared)
	}
	view, _ := perception.Select[T](ctx.env.Perception, in.Cycler, in.OutputName())
	return view, nil
}

// ResetPerception drops the persistent perception items of the producer of a perception input.
func ResetPerception(ctx *CycleContext, name string) error {
	in, err := ctx.declaredInput(name, InputPerception)
	if err != nil {
		return err
	}
	if ctx.env.Perception != nil {
		ctx.env.Perception.Reset(in.Cycler)
	}
	return nil
}

// --------------------------------------------------------------------------
// Outputs
// --------------------------------------------------------------------------

func checkType(declared Output, value any) error {
	if declared.Type == nil || value == nil {
		return nil
	}
	if want, got := reflect.TypeOf(declared.Type), reflect.TypeOf(value); want != got {
		return fmt.Errorf("output %q is declared as %s, got %s: %w", declared.Name, want, got, ErrType)
	}
	return nil
}

// SetMainOutput stores the value of a main output for this cycle.
func SetMainOutput(ctx *CycleContext, name string, value any) error {
	declared, ok := findOutput(ctx.descriptor.MainOutputs, name)
	if !ok {
		return fmt.Errorf("main output %q of %s: %w", name, ctx.descriptor.Name, ErrUndeclared)
	}
	if err := checkType(declared, value); err != nil {
		return err
	}
	ctx.env.Own.MainOutputs[name] = value
	return nil
}

// AdditionalOutput is a debug output that is only filled while a client requests it.
type AdditionalOutput struct {
	ctx      *CycleContext
	declared Output
	err      error
}

// AdditionalOutput returns the handle of a declared additional output.
func (c *CycleContext) AdditionalOutput(name string) *AdditionalOutput {
	declared, ok := findOutput(c.descriptor.AdditionalOutputs, name)
	if !ok {
		return &AdditionalOutput{ctx: c, declared: Output{Name: name},
			err: fmt.Errorf("additional output %q of %s: %w", name, c.descriptor.Name, ErrUndeclared)}
	}
	return &AdditionalOutput{ctx: c, declared: declared}
}

// IsRequested reports whether a client currently wants the output.
func (a *AdditionalOutput) IsRequested() bool {
	return a.err == nil && a.ctx.env.Requests != nil && a.ctx.env.Requests.IsRequested(a.declared.Name)
}

// Fill computes and stores the output only if it is requested.
func (a *AdditionalOutput) Fill(compute func() (any, error)) error {
	if a.err != nil {
		return a.err
	}
	if !a.IsRequested() {
		return nil
	}
	value, err := compute()
	if err != nil {
		return err
	}
	return a.Set(value)
}

// Set stores the output unconditionally.
func (a *AdditionalOutput) Set(value any) error {
	if a.err != nil {
		return a.err
	}
	if err := checkType(a.declared, value); err != nil {
		return err
	}
	a.ctx.env.Own.AdditionalOutputs[a.declared.Name] = value
	return nil
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// PersistentState returns the named persistent state of the cycler. It survives cycles and is
// never published.
func PersistentState[T any](ctx *CycleContext, name string) (*T, error) {
	if !contains(ctx.descriptor.PersistentState, name) {
		return nil, fmt.Errorf("persistent state %q of %s: %w", name, ctx.descriptor.Name, ErrUndeclared)
	}
	return database.Get[T](ctx.env.Persistent, name)
}

// CyclerState returns the named cycler state. It is shared between the nodes of a cycler and
// lives until a node resets it.
func CyclerState[T any](ctx *CycleContext, name string) (*T, error) {
	if !contains(ctx.descriptor.CyclerState, name) {
		return nil, fmt.Errorf("cycler state %q of %s: %w", name, ctx.descriptor.Name, ErrUndeclared)
	}
	return database.Get[T](ctx.env.CyclerState, name)
}

// ResetCyclerState drops the named cycler state.
func ResetCyclerState(ctx *CycleContext, name string) error {
	if !contains(ctx.descriptor.CyclerState, name) {
		return fmt.Errorf("cycler state %q of %s: %w", name, ctx.descriptor.Name, ErrUndeclared)
	}
	ctx.env.CyclerState.Reset(name)
	return nil
}
