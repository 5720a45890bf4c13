package serializer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ValentinKolb/dCycle/lib/path"
	"github.com/ValentinKolb/dCycle/rpc/common"
)

// IValueCodec encodes the values carried in Message.Value.
type IValueCodec interface {
	// Encode encodes a value (usually a tree of maps, slices and scalars)
	Encode(value any) ([]byte, error)
	// Decode decodes a value into its tree form (see path.ToTree)
	Decode(b []byte) (any, error)
}

// NewValueCodec returns the codec of a format.
func NewValueCodec(format common.Format) (IValueCodec, error) {
	switch format {
	case common.FormatText, "":
		return textCodecImpl{}, nil
	case common.FormatBinary:
		return binaryCodecImpl{}, nil
	default:
		return nil, fmt.Errorf("unknown value format %q", format)
	}
}

// --------------------------------------------------------------------------
// Text (JSON)
// --------------------------------------------------------------------------

type textCodecImpl struct{}

func (textCodecImpl) Encode(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (textCodecImpl) Decode(b []byte) (any, error) {
	var tree any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// --------------------------------------------------------------------------
// Binary (length prefixed msgpack)
// --------------------------------------------------------------------------

// binaryCodecImpl frames msgpack with a 4 byte little endian length.
type binaryCodecImpl struct{}

func (binaryCodecImpl) Encode(value any) ([]byte, error) {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	return append(out, payload...), nil
}

func (binaryCodecImpl) Decode(b []byte) (any, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("binary value too short for its length prefix")
	}
	n := binary.LittleEndian.Uint32(b[:4])
	if uint64(n) != uint64(len(b)-4) {
		return nil, fmt.Errorf("binary value length %d does not match payload of %d bytes", n, len(b)-4)
	}
	var value any
	if err := msgpack.Unmarshal(b[4:], &value); err != nil {
		return nil, err
	}
	// msgpack keeps integer widths, trees use float64 like JSON does
	return path.ToTree(value)
}
