// Package perception collects the main outputs of perception cyclers as seen by the real-time
// cycler. Items are grouped per producing cycler and ordered by the producer's cycle start time.
package perception

import (
	"sort"
	"time"
)

// DefaultLimit bounds the number of persistent entries kept per producer.
const DefaultLimit = 256

// Entry is one perception item: the main outputs of one cycle of a perception cycler.
type Entry[T any] struct {
	Timestamp time.Time
	Items     []T
}

// View is the typed perception input of a node.
type View[T any] struct {
	// Persistent holds all items since the last consumer reset, ordered by timestamp.
	Persistent []Entry[T]
	// Temporary holds the items that became visible in the current cycle.
	Temporary []T
}

type item struct {
	timestamp time.Time
	outputs   map[string]any
}

type producer struct {
	persistent []item
	temporary  []item
}

// Databases is the perception database of the real-time cycler. It is only used from the
// real-time cycler goroutine.
type Databases struct {
	producers map[string]*producer
	limit     int
}

// New creates perception databases for the given producing cycler instances.
func New(producers []string, limit int) *Databases {
	if limit <= 0 {
		limit = DefaultLimit
	}
	d := &Databases{producers: make(map[string]*producer, len(producers)), limit: limit}
	for _, name := range producers {
		d.producers[name] = &producer{}
	}
	return d
}

// BeginCycle forgets the temporary items of the previous cycle.
func (d *Databases) BeginCycle() {
	for _, p := range d.producers {
		p.temporary = p.temporary[:0]
	}
}

// Add appends a consumed item of the given producer. Items of one producer arrive in
// non-decreasing timestamp order.
func (d *Databases) Add(producerName string, timestamp time.Time, outputs map[string]any) {
	p, ok := d.producers[producerName]
	if !ok {
		p = &producer{}
		d.producers[producerName] = p
	}
	it := item{timestamp: timestamp, outputs: outputs}
	p.temporary = append(p.temporary, it)
	p.persistent = append(p.persistent, it)
	if overflow := len(p.persistent) - d.limit; overflow > 0 {
		p.persistent = append(p.persistent[:0], p.persistent[overflow:]...)
	}
}

// Reset drops the persistent items of a producer after a consumer has processed them.
func (d *Databases) Reset(producerName string) {
	if p, ok := d.producers[producerName]; ok {
		p.persistent = nil
	}
}

// Producers returns the names of all known producers in lexical order.
func (d *Databases) Producers() []string {
	names := make([]string, 0, len(d.producers))
	for name := range d.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select builds the view of one output of one producer. Items whose output is missing or of a
// different type are skipped. ok is false for an unknown producer.
func Select[T any](d *Databases, producerName, output string) (view View[T], ok bool) {
	p, ok := d.producers[producerName]
	if !ok {
		return view, false
	}
	for _, it := range p.persistent {
		value, ok := it.outputs[output].(T)
		if !ok {
			continue
		}
		last := len(view.Persistent) - 1
		if last >= 0 && view.Persistent[last].Timestamp.Equal(it.timestamp) {
			view.Persistent[last].Items = append(view.Persistent[last].Items, value)
			continue
		}
		view.Persistent = append(view.Persistent, Entry[T]{Timestamp: it.timestamp, Items: []T{value}})
	}
	for _, it := range p.temporary {
		if value, ok := it.outputs[output].(T); ok {
			view.Temporary = append(view.Temporary, value)
		}
	}
	return view, true
}
