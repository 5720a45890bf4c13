package path

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// A tree is the dynamically typed form of a value as produced by encoding/json:
// map[string]any for objects, []any for arrays, float64, string, bool and nil for leaves.

// ToTree converts any JSON-serializable Go value into its tree form.
func ToTree(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// FromTree decodes a tree into a typed value.
func FromTree[T any](tree any) (T, error) {
	var v T
	raw, err := json.Marshal(tree)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, NewError(RetCTypeMismatch, err.Error())
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Traverse
// --------------------------------------------------------------------------

// Traverse follows p through tree and returns the addressed value.
// Object members are addressed by key, array elements by decimal index.
func Traverse(tree any, p Path) (any, error) {
	current := tree
	for i, segment := range p {
		next, err := child(current, segment)
		if err != nil {
			return nil, NewError(RetCNoSuchPath, fmt.Sprintf("%s: %s", p[:i+1], err))
		}
		current = next
	}
	return current, nil
}

func child(node any, segment string) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[segment]
		if !ok {
			return nil, fmt.Errorf("no member %q", segment)
		}
		return v, nil
	case []any:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= len(n) {
			return nil, fmt.Errorf("no element %q", segment)
		}
		return n[index], nil
	default:
		return nil, fmt.Errorf("cannot descend into %s", KindOf(node))
	}
}

// --------------------------------------------------------------------------
// Set (copy on write)
// --------------------------------------------------------------------------

// Set returns a new tree in which the value at p is replaced by value. Every object and array on
// the way from the root to p is copied, everything else is shared with the input tree, so readers
// of the old tree are never affected.
//
// The addressed value must exist and value must have the same kind (object, array, number, ...)
// unless the existing value is null. An empty p replaces the whole tree under the same rule.
func Set(tree any, p Path, value any) (any, error) {
	if len(p) == 0 {
		if err := checkKind(tree, value); err != nil {
			return nil, NewError(RetCTypeMismatch, fmt.Sprintf("<root>: %s", err))
		}
		return value, nil
	}

	segment := p[0]
	switch n := tree.(type) {
	case map[string]any:
		old, ok := n[segment]
		if !ok {
			return nil, NewError(RetCNoSuchPath, fmt.Sprintf("no member %q", segment))
		}
		updated, err := Set(old, p[1:], value)
		if err != nil {
			return nil, prefixError(segment, err)
		}
		copied := make(map[string]any, len(n))
		for k, v := range n {
			copied[k] = v
		}
		copied[segment] = updated
		return copied, nil
	case []any:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= len(n) {
			return nil, NewError(RetCNoSuchPath, fmt.Sprintf("no element %q", segment))
		}
		updated, err := Set(n[index], p[1:], value)
		if err != nil {
			return nil, prefixError(segment, err)
		}
		copied := make([]any, len(n))
		copy(copied, n)
		copied[index] = updated
		return copied, nil
	default:
		return nil, NewError(RetCNoSuchPath, fmt.Sprintf("cannot descend into %s at %q", KindOf(tree), segment))
	}
}

func prefixError(segment string, err error) error {
	if e, ok := err.(*Error); ok {
		return NewError(e.Code, segment+"."+e.Msg)
	}
	return err
}

func checkKind(old, value any) error {
	if old == nil {
		return nil
	}
	if KindOf(old) != KindOf(value) {
		return fmt.Errorf("expected %s, got %s", KindOf(old), KindOf(value))
	}
	return nil
}

// --------------------------------------------------------------------------
// Merge
// --------------------------------------------------------------------------

// Merge merges overlay into base and returns the result without modifying either input.
// Objects are merged recursively (union of keys); on every other position, including a kind
// mismatch, the overlay wins. Arrays are replaced as a whole.
func Merge(base, overlay any) any {
	baseObject, baseIsObject := base.(map[string]any)
	overlayObject, overlayIsObject := overlay.(map[string]any)
	if !baseIsObject || !overlayIsObject {
		return overlay
	}

	merged := make(map[string]any, len(baseObject)+len(overlayObject))
	for k, v := range baseObject {
		merged[k] = v
	}
	for k, v := range overlayObject {
		if existing, ok := merged[k]; ok {
			merged[k] = Merge(existing, v)
		} else {
			merged[k] = v
		}
	}
	return merged
}

// Insert returns a new tree with value placed at p, creating intermediate objects as needed.
// Unlike Set it does not require the path to exist; it is used to build sparse layer files.
func Insert(tree any, p Path, value any) any {
	if len(p) == 0 {
		return value
	}
	object, ok := tree.(map[string]any)
	copied := make(map[string]any, len(object)+1)
	if ok {
		for k, v := range object {
			copied[k] = v
		}
	}
	copied[p[0]] = Insert(copied[p[0]], p[1:], value)
	return copied
}

// --------------------------------------------------------------------------
// Kinds
// --------------------------------------------------------------------------

// Kind is the JSON kind of a tree node.
type Kind string

const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// KindOf returns the JSON kind of a tree node.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case float64, float32, int, int64, int32, uint64, uint32, json.Number:
		return KindNumber
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return Kind(fmt.Sprintf("%T", v))
	}
}

// Leaves enumerates the paths of all leaves below tree in lexical order, prefixed with prefix.
// Empty objects and arrays count as leaves.
func Leaves(tree any, prefix Path) []Path {
	var out []Path
	var walk func(node any, p Path)
	walk = func(node any, p Path) {
		switch n := node.(type) {
		case map[string]any:
			if len(n) == 0 {
				out = append(out, p)
				return
			}
			keys := make([]string, 0, len(n))
			for k := range n {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(n[k], p.Child(k))
			}
		default:
			out = append(out, p)
		}
	}
	walk(tree, prefix)
	return out
}
