package serializer

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ValentinKolb/dCycle/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasPath      uint16 = 1 << 0
	hasKind      uint16 = 1 << 1
	hasFormat    uint16 = 1 << 2
	hasID        uint16 = 1 << 3
	hasScope     uint16 = 1 << 4
	hasTimestamp uint16 = 1 << 5
	hasValue     uint16 = 1 << 6
	hasPaths     uint16 = 1 << 7
	hasOk        uint16 = 1 << 8
	hasReason    uint16 = 1 << 9
)

// headerSize is 1 byte MsgType + 2 bytes flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, headerSize, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags uint16
	if msg.Path != "" {
		flags |= hasPath
		result = appendString(result, msg.Path)
	}
	if msg.Kind != "" {
		flags |= hasKind
		result = appendString(result, msg.Kind)
	}
	if msg.Format != "" {
		flags |= hasFormat
		result = appendString(result, string(msg.Format))
	}
	if msg.ID != 0 {
		flags |= hasID
		result = binary.BigEndian.AppendUint64(result, msg.ID)
	}
	if msg.Scope != "" {
		flags |= hasScope
		result = appendString(result, msg.Scope)
	}
	if !msg.Timestamp.IsZero() {
		flags |= hasTimestamp
		var ts [common.TimestampSize]byte
		msg.Timestamp.PutBinary(ts[:])
		result = append(result, ts[:]...)
	}
	if msg.Value != nil {
		flags |= hasValue
		result = binary.BigEndian.AppendUint32(result, uint32(len(msg.Value)))
		result = append(result, msg.Value...)
	}
	if msg.Paths != nil {
		flags |= hasPaths
		keys := make([]string, 0, len(msg.Paths))
		for k := range msg.Paths {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		result = binary.BigEndian.AppendUint32(result, uint32(len(keys)))
		for _, k := range keys {
			result = appendString(result, k)
			result = appendString(result, msg.Paths[k])
		}
	}
	if msg.Ok {
		flags |= hasOk
		result = append(result, 1)
	}
	if msg.Reason != "" {
		flags |= hasReason
		result = appendString(result, msg.Reason)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:3], flags)
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := reader{data: data, pos: headerSize}

	if flags&hasPath != 0 {
		msg.Path = r.string("path")
	}
	if flags&hasKind != 0 {
		msg.Kind = r.string("kind")
	}
	if flags&hasFormat != 0 {
		msg.Format = common.Format(r.string("format"))
	}
	if flags&hasID != 0 {
		if raw := r.next(8, "id"); raw != nil {
			msg.ID = binary.BigEndian.Uint64(raw)
		}
	}
	if flags&hasScope != 0 {
		msg.Scope = r.string("scope")
	}
	if flags&hasTimestamp != 0 {
		if raw := r.next(common.TimestampSize, "timestamp"); raw != nil {
			ts, err := common.ParseTimestamp(raw)
			if err != nil {
				return err
			}
			msg.Timestamp = ts
		}
	}
	if flags&hasValue != 0 {
		if value := r.bytes("value"); value != nil {
			// copy, data may be a pooled buffer; an empty value stays non nil
			msg.Value = append(make([]byte, 0, len(value)), value...)
		}
	}
	if flags&hasPaths != 0 {
		if raw := r.next(4, "paths count"); raw != nil {
			count := binary.BigEndian.Uint32(raw)
			msg.Paths = make(map[string]string, min(int(count), 1024))
			for i := uint32(0); i < count && r.err == nil; i++ {
				k := r.string("path name")
				v := r.string("path type")
				msg.Paths[k] = v
			}
		}
	}
	if flags&hasOk != 0 {
		if raw := r.next(1, "ok flag"); raw != nil {
			msg.Ok = raw[0] != 0
		}
	}
	if flags&hasReason != 0 {
		msg.Reason = r.string("reason")
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize
	size += 4 + len(msg.Path)
	size += 4 + len(msg.Kind)
	size += 4 + len(msg.Format)
	size += 8                    // ID
	size += 4 + len(msg.Scope)   // Scope
	size += common.TimestampSize // Timestamp
	size += 4 + len(msg.Value)   // Value
	size += 4                    // Paths count
	for k, v := range msg.Paths {
		size += 8 + len(k) + len(v)
	}
	size += 1 // Ok
	size += 4 + len(msg.Reason)
	return size
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// reader walks a frame and remembers the first error.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) next(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", what)
		return nil
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out
}

func (r *reader) bytes(what string) []byte {
	raw := r.next(4, what+" length")
	if raw == nil {
		return nil
	}
	return r.next(int(binary.BigEndian.Uint32(raw)), what+" data")
}

func (r *reader) string(what string) string {
	return string(r.bytes(what))
}
