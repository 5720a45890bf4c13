package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/database"
	"github.com/ValentinKolb/dCycle/lib/path"
)

// DefaultReadLease is how long a read of an additional output keeps its production enabled.
const DefaultReadLease = time.Second

// CyclerSource publishes one section (main or additional outputs) of a cycler's database.
//
// All reads of one source are serialized, so the source counts as a single reader of the cycler
// buffer no matter how many subscriptions it serves.
type CyclerSource struct {
	section string
	buffer  *buffer.Buffer[*database.Database]
	watch   *buffer.Watch
	typ     *path.Type

	// set for the additional outputs section
	requests *database.Requests
	lease    time.Duration

	mu sync.Mutex
}

// NewCyclerSource creates the source of one section. requests must be set for
// database.SectionAdditionalOutputs and is ignored otherwise.
func NewCyclerSource(
	section string,
	layout *database.Layout,
	buf *buffer.Buffer[*database.Database],
	watch *buffer.Watch,
	requests *database.Requests,
) *CyclerSource {
	s := &CyclerSource{
		section: section,
		buffer:  buf,
		watch:   watch,
		typ:     layout.Type(section),
		lease:   DefaultReadLease,
	}
	if section == database.SectionAdditionalOutputs {
		s.requests = requests
	}
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see router.ISource)
// --------------------------------------------------------------------------

func (s *CyclerSource) Paths() map[string]string {
	return s.typ.Descendants(nil)
}

func (s *CyclerSource) Watch() *buffer.Watch {
	return s.watch
}

func (s *CyclerSource) Read(suffix path.Path) (Value, error) {
	if !s.typ.Contains(suffix) {
		return Value{}, NewError(RetCNoSuchPath, fmt.Sprintf("%s has no field %s", s.section, suffix))
	}
	if s.requests != nil {
		for _, name := range s.outputNames(suffix) {
			s.requests.Lease(name, s.lease)
		}
	}

	s.mu.Lock()
	guard := s.buffer.NextRead()
	db := *guard.Value()
	timestamp := db.CycleStartTime
	section, err := db.Section(s.section)
	if err != nil {
		guard.Release()
		s.mu.Unlock()
		return Value{}, err
	}

	// values are immutable once set, holding references after the release is fine
	var data any
	if suffix.IsEmpty() {
		copied := make(map[string]any, len(section))
		for k, v := range section {
			copied[k] = v
		}
		data = copied
	} else {
		data = section[suffix[0]]
	}
	guard.Release()
	s.mu.Unlock()

	if suffix.IsEmpty() {
		tree, err := path.ToTree(data)
		return Value{Timestamp: timestamp, Data: tree}, err
	}

	tree, err := path.ToTree(data)
	if err != nil {
		return Value{}, err
	}
	value, err := path.Traverse(tree, suffix[1:])
	if err != nil {
		// declared, but an enclosing value was not produced this cycle
		if !s.dynamicBelow(suffix) {
			return Value{Timestamp: timestamp, Data: nil}, nil
		}
		return Value{}, err
	}
	return Value{Timestamp: timestamp, Data: value}, nil
}

// Request keeps the addressed additional outputs enabled until release is called.
func (s *CyclerSource) Request(suffix path.Path) (release func()) {
	if s.requests == nil {
		return func() {}
	}
	names := s.outputNames(suffix)
	releases := make([]func(), 0, len(names))
	for _, name := range names {
		releases = append(releases, s.requests.Acquire(name))
	}
	return func() {
		for _, r := range releases {
			r()
		}
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// outputNames returns the outputs touched by a request: the first segment, or all for the root.
func (s *CyclerSource) outputNames(suffix path.Path) []string {
	if !suffix.IsEmpty() {
		return []string{suffix[0]}
	}
	names := make([]string, 0, len(s.typ.Fields))
	for _, f := range s.typ.Fields {
		names = append(names, f.Name)
	}
	return names
}

// dynamicBelow reports whether a dynamic type (map, interface) lies on the way to suffix.
// Paths below a dynamic type are only valid if the value exists.
func (s *CyclerSource) dynamicBelow(suffix path.Path) bool {
	current := s.typ
	for _, segment := range suffix {
		if current.Dynamic {
			return true
		}
		next, ok := current.Field(segment)
		if !ok {
			return true
		}
		current = next
	}
	return false
}
