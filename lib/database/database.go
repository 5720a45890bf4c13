package database

import (
	"fmt"
	"sort"
	"time"

	"github.com/ValentinKolb/dCycle/lib/path"
)

// Section names of the published part of a database.
const (
	SectionMainOutputs       = "main_outputs"
	SectionAdditionalOutputs = "additional_outputs"
)

// --------------------------------------------------------------------------
// Database
// --------------------------------------------------------------------------

// Database is the published state of one cycler instance for one cycle.
//
// Values are stored by output name. A value that was set must not be modified afterwards: other
// cyclers and the router may still read it from an older slot and historic snapshots share it.
// Nodes always set a fresh value each cycle.
type Database struct {
	CycleStartTime    time.Time
	MainOutputs       map[string]any
	AdditionalOutputs map[string]any
}

// New creates an empty database in which every declared output is present with a nil value.
func New(layout *Layout) *Database {
	db := &Database{
		MainOutputs:       make(map[string]any, len(layout.MainOutputs)),
		AdditionalOutputs: make(map[string]any, len(layout.AdditionalOutputs)),
	}
	for _, o := range layout.MainOutputs {
		db.MainOutputs[o.Name] = nil
	}
	for _, o := range layout.AdditionalOutputs {
		db.AdditionalOutputs[o.Name] = nil
	}
	return db
}

// Reset prepares a reused slot for a new cycle: every output is set back to nil, so a value
// that is present was produced in this cycle.
func (db *Database) Reset(cycleStartTime time.Time) {
	db.CycleStartTime = cycleStartTime
	for name := range db.MainOutputs {
		db.MainOutputs[name] = nil
	}
	db.ResetAdditionalOutputs()
}

// ResetAdditionalOutputs sets every additional output back to nil.
func (db *Database) ResetAdditionalOutputs() {
	for name := range db.AdditionalOutputs {
		db.AdditionalOutputs[name] = nil
	}
}

// Section returns the output map of the given section.
func (db *Database) Section(name string) (map[string]any, error) {
	switch name {
	case SectionMainOutputs:
		return db.MainOutputs, nil
	case SectionAdditionalOutputs:
		return db.AdditionalOutputs, nil
	default:
		return nil, fmt.Errorf("unknown database section %q", name)
	}
}

// CloneMainOutputs returns a shallow copy of the main outputs.
// Used for perception items and historic snapshots.
func (db *Database) CloneMainOutputs() map[string]any {
	clone := make(map[string]any, len(db.MainOutputs))
	for k, v := range db.MainOutputs {
		clone[k] = v
	}
	return clone
}

// --------------------------------------------------------------------------
// Layout
// --------------------------------------------------------------------------

// Output is a named output together with its static type description.
type Output struct {
	Name string
	Type *path.Type
}

// Layout lists the outputs of a cycler and carries the hierarchical type description of both
// published sections. It is built once at assembly.
type Layout struct {
	MainOutputs       []Output
	AdditionalOutputs []Output
}

// Add registers an output in the given section. Duplicate names are rejected.
func (l *Layout) Add(section string, output Output) error {
	target := &l.MainOutputs
	if section == SectionAdditionalOutputs {
		target = &l.AdditionalOutputs
	}
	for _, existing := range *target {
		if existing.Name == output.Name {
			return fmt.Errorf("%s %q is declared twice", section, output.Name)
		}
	}
	*target = append(*target, output)
	return nil
}

// Type returns the description of a section.
func (l *Layout) Type(section string) *path.Type {
	outputs := l.MainOutputs
	if section == SectionAdditionalOutputs {
		outputs = l.AdditionalOutputs
	}
	sorted := make([]Output, len(outputs))
	copy(sorted, outputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	fields := make([]path.Field, 0, len(sorted))
	for _, o := range sorted {
		fields = append(fields, path.Field{Name: o.Name, Type: o.Type})
	}
	return path.NewStructType(section, fields)
}

// Has reports whether an output with the given name exists in the section.
func (l *Layout) Has(section, name string) bool {
	outputs := l.MainOutputs
	if section == SectionAdditionalOutputs {
		outputs = l.AdditionalOutputs
	}
	for _, o := range outputs {
		if o.Name == name {
			return true
		}
	}
	return false
}
