package path

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Path
// --------------------------------------------------------------------------

// Path is a dotted hierarchical path, e.g. Control.main_outputs.ball_position.x.
// The zero value (no segments) addresses a whole subtree and is only produced by StripPrefix.
type Path []string

// Parse parses a dotted path. The path must be non-empty and must not contain empty segments.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, NewError(RetCInvalidPath, "path is empty")
	}
	segments := strings.Split(s, ".")
	for i, segment := range segments {
		if segment == "" {
			return nil, NewError(RetCInvalidPath, fmt.Sprintf("path %q has an empty segment at position %d", s, i))
		}
	}
	return segments, nil
}

// MustParse is like Parse but panics on error. Only use it for constant paths.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical dotted form.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// IsEmpty reports whether the path addresses a whole subtree.
func (p Path) IsEmpty() bool {
	return len(p) == 0
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// StartsWith reports whether prefix is a segment-wise prefix of p.
// Every path starts with the empty path.
func (p Path) StartsWith(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// StripPrefix returns the tail of p after prefix. The result is empty if p equals prefix.
func (p Path) StripPrefix(prefix Path) (Path, bool) {
	if !p.StartsWith(prefix) {
		return nil, false
	}
	return p[len(prefix):], true
}

// Parent returns the path without its last segment. ok is false for the empty path.
func (p Path) Parent() (parent Path, ok bool) {
	if len(p) == 0 {
		return nil, false
	}
	return p[:len(p)-1], true
}

// Last returns the last segment or "" for the empty path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Child returns a new path with segment appended. The receiver is never modified.
func (p Path) Child(segment string) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, segment)
}

// Join returns a new path with all segments of other appended.
func (p Path) Join(other Path) Path {
	joined := make(Path, 0, len(p)+len(other))
	joined = append(joined, p...)
	return append(joined, other...)
}

// IsChildOf reports whether p is a direct child of parent.
func (p Path) IsChildOf(parent Path) bool {
	return len(p) == len(parent)+1 && p.StartsWith(parent)
}

// Overlaps reports whether one of the paths is a prefix of the other.
func (p Path) Overlaps(other Path) bool {
	return p.StartsWith(other) || other.StartsWith(p)
}
