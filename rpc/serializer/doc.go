// Package serializer provides the frame and value encodings of the dCycle communication
// protocol. It defines a common interface for frame serializers and multiple implementations,
// plus the codecs used for the values carried inside a frame.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all frame serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A 3 byte header (message type and a flag
//     word) is followed by the present fields only. Timestamps are 12 bytes (little endian
//     seconds and nanos).
//
//   - gobSerializerImpl: Implementation using Go's built-in gob encoding.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, useful for debugging
//     or for clients written in other languages.
//
//   - IValueCodec: Encodes Message.Value. The text format is JSON, the binary format is
//     msgpack prefixed with its length as a 4 byte little endian integer. Decoded values are
//     always normalized to the tree form of the path package (maps, slices, float64, strings
//     and bools), so that the same value compares equal regardless of its format.
//
// Thread Safety:
//
//	All serializers and codecs are stateless and safe for concurrent use.
//
// Usage:
//
//	serializer := serializer.NewBinarySerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
