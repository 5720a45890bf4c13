package path

import (
	"reflect"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Hierarchical Type Description
// --------------------------------------------------------------------------

// Type describes the shape of a value so that every reachable path can be enumerated without
// looking at a concrete value. Descriptions are built once at assembly time (by reflection over
// the declared Go types) and are immutable afterwards.
type Type struct {
	// Name is the serialized type name shown to tooling, e.g. "float64", "Vector2", "[]float64".
	Name string `json:"name"`
	// Fields lists the children of a struct-like type in declaration order; nil for leaves.
	Fields []Field `json:"fields,omitempty"`
	// Dynamic marks types whose children are only known at runtime (maps, interfaces).
	// Any path below a dynamic type is accepted.
	Dynamic bool `json:"dynamic,omitempty"`
}

// Field is a named child of a Type.
type Field struct {
	Name string `json:"name"`
	Type *Type  `json:"type"`
}

// NewStructType creates a description from explicit fields (used for per-cycler output sets).
func NewStructType(name string, fields []Field) *Type {
	return &Type{Name: name, Fields: fields}
}

// IsLeaf reports whether the type has no statically known children.
func (t *Type) IsLeaf() bool {
	return len(t.Fields) == 0
}

// Field returns the child with the given name.
func (t *Type) Field(name string) (*Type, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return nil, false
}

// Lookup returns the type at p relative to t.
func (t *Type) Lookup(p Path) (*Type, bool) {
	current := t
	for _, segment := range p {
		if current.Dynamic {
			return &Type{Name: "any", Dynamic: true}, true
		}
		next, ok := current.Field(segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Contains reports whether p is a valid path below t.
func (t *Type) Contains(p Path) bool {
	_, ok := t.Lookup(p)
	return ok
}

// Descendants enumerates every reachable path below t (intermediate and leaf), each joined
// onto prefix, together with its type name. The order follows field declaration order.
func (t *Type) Descendants(prefix Path) map[string]string {
	out := make(map[string]string)
	var walk func(current *Type, p Path)
	walk = func(current *Type, p Path) {
		for _, f := range current.Fields {
			child := p.Child(f.Name)
			out[child.String()] = f.Type.Name
			walk(f.Type, child)
		}
	}
	walk(t, prefix)
	return out
}

// SortedPaths returns the keys of a Descendants result in lexical order.
func SortedPaths(descendants map[string]string) []string {
	paths := make([]string, 0, len(descendants))
	for p := range descendants {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// --------------------------------------------------------------------------
// Reflection (assembly time only)
// --------------------------------------------------------------------------

// Describe builds the type description of a Go type. Struct fields are named after their json tag
// (falling back to the Go field name), embedded structs are flattened, maps and interfaces are
// dynamic, slices and arrays are leaves.
func Describe(t reflect.Type) *Type {
	return describe(t, make(map[reflect.Type]bool))
}

// DescribeValue is a convenience wrapper around Describe for a (zero) value.
func DescribeValue(v any) *Type {
	if v == nil {
		return &Type{Name: "any", Dynamic: true}
	}
	return Describe(reflect.TypeOf(v))
}

func describe(t reflect.Type, visiting map[reflect.Type]bool) *Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		if t.PkgPath() == "time" && t.Name() == "Time" {
			return &Type{Name: "Time"}
		}
		if visiting[t] {
			// recursive type, stop here
			return &Type{Name: typeName(t)}
		}
		visiting[t] = true
		defer delete(visiting, t)

		result := &Type{Name: typeName(t)}
		result.Fields = structFields(t, visiting)
		return result
	case reflect.Map, reflect.Interface:
		return &Type{Name: typeName(t), Dynamic: true}
	default:
		return &Type{Name: typeName(t)}
	}
}

func structFields(t reflect.Type, visiting map[reflect.Type]bool) []Field {
	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, skip := jsonName(sf)
		if skip {
			continue
		}
		ft := sf.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		// embedded structs are promoted like encoding/json does, even when unexported
		if sf.Anonymous && ft.Kind() == reflect.Struct && sf.Tag.Get("json") == "" {
			fields = append(fields, structFields(ft, visiting)...)
			continue
		}
		if !sf.IsExported() {
			continue
		}
		fields = append(fields, Field{Name: name, Type: describe(sf.Type, visiting)})
	}
	return fields
}

func jsonName(sf reflect.StructField) (name string, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name = strings.Split(tag, ",")[0]
	if name == "" {
		name = sf.Name
	}
	return name, false
}

func typeName(t reflect.Type) string {
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
