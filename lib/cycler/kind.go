package cycler

import (
	"fmt"
	"strings"
)

// Kind is the timing class of a cycler.
type Kind int

const (
	// RealTime is the control cycler. It consumes perception items and keeps the historic databases.
	RealTime Kind = iota
	// Perception cyclers are paced by their hardware and publish perception items.
	Perception
)

func (k Kind) String() string {
	switch k {
	case RealTime:
		return "realtime"
	case Perception:
		return "perception"
	default:
		return "unknown"
	}
}

// ParseKind parses "realtime" or "perception".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "realtime":
		return RealTime, nil
	case "perception":
		return Perception, nil
	default:
		return 0, fmt.Errorf("unknown cycler kind %q, must be realtime or perception", s)
	}
}
