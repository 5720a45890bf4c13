package router

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/path"
)

// ParameterSource exposes the parameter store for reading, subscribing, writing and persisting.
type ParameterSource struct {
	store *parameters.Store
}

// NewParameterSource wraps a parameter store.
func NewParameterSource(store *parameters.Store) *ParameterSource {
	return &ParameterSource{store: store}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see router.ISource and router.IPersistingSink)
// --------------------------------------------------------------------------

func (s *ParameterSource) Paths() map[string]string {
	out := make(map[string]string)
	var walk func(node any, p path.Path)
	walk = func(node any, p path.Path) {
		if !p.IsEmpty() {
			out[p.String()] = string(path.KindOf(node))
		}
		if object, ok := node.(map[string]any); ok {
			for k, v := range object {
				walk(v, p.Child(k))
			}
		}
	}
	walk(s.store.Current().Tree, nil)
	return out
}

func (s *ParameterSource) Watch() *buffer.Watch {
	return s.store.Watch()
}

func (s *ParameterSource) Read(suffix path.Path) (Value, error) {
	snapshot := s.store.Current()
	value, err := path.Traverse(snapshot.Tree, suffix)
	if err != nil {
		return Value{}, err
	}
	return Value{Timestamp: snapshot.Timestamp, Data: value}, nil
}

// Write replaces the parameter at suffix. The timestamp of the write is not used, the new
// snapshot is stamped when it is published.
func (s *ParameterSource) Write(suffix path.Path, _ time.Time, value any) error {
	tree, err := path.ToTree(value)
	if err != nil {
		return NewError(RetCDecode, fmt.Sprintf("parameters.%s: %v", suffix, err))
	}
	_, err = s.store.Write(suffix, tree)
	return err
}

func (s *ParameterSource) Persist(suffix path.Path, scope string) error {
	parsed, err := parameters.ParseScope(scope)
	if err != nil {
		return err
	}
	return s.store.Persist(suffix, parsed)
}
