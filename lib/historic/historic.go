// Package historic keeps past main outputs of the real-time cycler indexed by cycle start time, so
// that nodes processing a perception item can look at the control state of the moment the
// perception was taken.
package historic

import (
	"sort"
	"time"
)

type entry struct {
	timestamp time.Time
	outputs   map[string]any
}

// Databases is an ordered list of main output snapshots of the real-time cycler.
// It is owned by the real-time cycler goroutine and is not synchronized.
type Databases struct {
	entries []entry
}

// New creates an empty historic store.
func New() *Databases {
	return &Databases{}
}

// Update inserts the snapshot of the cycle started at timestamp and drops entries that no pending
// perception item can refer to anymore.
//
// watermark is the cycle start time of the oldest perception item that has not been consumed yet
// (nil when all perception queues are idle). The newest entry at or before the watermark is kept,
// together with everything after it. Without a watermark only the inserted snapshot survives.
func (h *Databases) Update(timestamp time.Time, outputs map[string]any, watermark *time.Time) {
	index := sort.Search(len(h.entries), func(i int) bool { return !h.entries[i].timestamp.Before(timestamp) })
	switch {
	case index < len(h.entries) && h.entries[index].timestamp.Equal(timestamp):
		h.entries[index].outputs = outputs
	default:
		h.entries = append(h.entries, entry{})
		copy(h.entries[index+1:], h.entries[index:])
		h.entries[index] = entry{timestamp: timestamp, outputs: outputs}
	}

	if watermark == nil {
		h.truncateBefore(len(h.entries) - 1)
		return
	}

	// index of the first entry after the watermark
	after := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].timestamp.After(*watermark) })
	if after > 0 {
		h.truncateBefore(after - 1)
	}
}

func (h *Databases) truncateBefore(index int) {
	if index <= 0 {
		return
	}
	remaining := copy(h.entries, h.entries[index:])
	for i := remaining; i < len(h.entries); i++ {
		h.entries[i] = entry{}
	}
	h.entries = h.entries[:remaining]
}

// Lookup returns the named output of the snapshot taken at timestamp, or of the newest snapshot
// before it when there is no exact hit. ok is false when no snapshot is old enough or when the
// output was not produced in that cycle.
func (h *Databases) Lookup(timestamp time.Time, name string) (value any, ok bool) {
	after := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].timestamp.After(timestamp) })
	if after == 0 {
		return nil, false
	}
	value, ok = h.entries[after-1].outputs[name]
	return value, ok && value != nil
}

// Timestamps returns the timestamps of all retained snapshots in ascending order.
func (h *Databases) Timestamps() []time.Time {
	out := make([]time.Time, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.timestamp
	}
	return out
}

// Len returns the number of retained snapshots.
func (h *Databases) Len() int {
	return len(h.entries)
}
