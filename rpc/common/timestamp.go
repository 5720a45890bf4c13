package common

import (
	"encoding/binary"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Timestamp
// --------------------------------------------------------------------------

// TimestampSize is the size of a timestamp in binary frames.
const TimestampSize = 12

// Timestamp is the wire form of a point in time: seconds and nanoseconds since the unix epoch.
//
// The zero value {0, 0} means "no timestamp" (e.g. a Write without a time, or a failed
// response). The unix epoch itself therefore cannot be carried: it is sent as unset
// and read back as the zero time.Time. Runtime timestamps are wall clock cycle start times and
// never fall on the epoch.
type Timestamp struct {
	Seconds int64  `json:"seconds"`
	Nanos   uint32 `json:"nanos"`
}

// NewTimestamp converts a time. The zero time and the unix epoch map to the unset timestamp.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{Seconds: t.Unix(), Nanos: uint32(t.Nanosecond())}
}

// Time converts the timestamp back. The unset timestamp maps to the zero time.
func (ts Timestamp) Time() time.Time {
	if ts.IsZero() {
		return time.Time{}
	}
	return time.Unix(ts.Seconds, int64(ts.Nanos))
}

// IsZero reports whether the timestamp is unset ({0, 0}).
func (ts Timestamp) IsZero() bool {
	return ts.Seconds == 0 && ts.Nanos == 0
}

// PutBinary writes the 12 byte form (seconds i64 LE, nanos u32 LE) into b.
func (ts Timestamp) PutBinary(b []byte) {
	binary.LittleEndian.PutUint64(b[:8], uint64(ts.Seconds))
	binary.LittleEndian.PutUint32(b[8:12], ts.Nanos)
}

// ParseTimestamp reads the 12 byte form.
func ParseTimestamp(b []byte) (Timestamp, error) {
	if len(b) < TimestampSize {
		return Timestamp{}, fmt.Errorf("timestamp needs %d bytes, got %d", TimestampSize, len(b))
	}
	nanos := binary.LittleEndian.Uint32(b[8:12])
	if nanos >= uint32(time.Second) {
		return Timestamp{}, fmt.Errorf("timestamp nanos out of range: %d", nanos)
	}
	return Timestamp{Seconds: int64(binary.LittleEndian.Uint64(b[:8])), Nanos: nanos}, nil
}

// --------------------------------------------------------------------------
// Value Format
// --------------------------------------------------------------------------

// Format selects the encoding of values in Message.Value.
type Format string

const (
	// FormatText encodes values as JSON. It is the default.
	FormatText Format = "text"
	// FormatBinary encodes values as length prefixed msgpack.
	FormatBinary Format = "binary"
)

// ParseFormat validates a format string. The empty string means FormatText.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatBinary:
		return FormatBinary, nil
	default:
		return "", fmt.Errorf("unknown format %q, must be one of %s, %s", s, FormatText, FormatBinary)
	}
}
