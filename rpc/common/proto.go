package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single frame used for requests, responses and pushed updates.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Path   string `json:"path,omitempty"`   // Used for: Read, Subscribe, Write, Persist
	Kind   string `json:"kind,omitempty"`   // Used for: GetPaths ("outputs" or "parameters")
	Format Format `json:"format,omitempty"` // Used for: Read, Subscribe, Write
	ID     uint64 `json:"id,omitempty"`     // Used for: Subscribe, Unsubscribe, Update (chosen by the client)
	Scope  string `json:"scope,omitempty"`  // Used for: Persist

	// Payload fields
	Timestamp Timestamp         `json:"timestamp"`       // Used for: Write (request), Read (response), Update
	Value     []byte            `json:"value,omitempty"` // Encoded in Format. Used for: Write, Read (response), Update
	Paths     map[string]string `json:"paths,omitempty"` // path -> type name. Used for: GetPaths (response)

	// Response only fields
	Ok     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"` // Empty if Ok, otherwise the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewGetPathsRequest creates a new GetPaths request
func NewGetPathsRequest(kind string) *Message {
	return &Message{MsgType: MsgTGetPaths, Kind: kind}
}

// NewGetPathsResponse creates a new GetPaths response
func NewGetPathsResponse(paths map[string]string, err error) *Message {
	return withError(&Message{MsgType: MsgTGetPaths, Paths: paths}, err)
}

// NewReadRequest creates a new Read request
func NewReadRequest(path string, format Format) *Message {
	return &Message{MsgType: MsgTRead, Path: path, Format: format}
}

// NewReadResponse creates a new Read response
func NewReadResponse(timestamp Timestamp, value []byte, err error) *Message {
	return withError(&Message{MsgType: MsgTRead, Timestamp: timestamp, Value: value}, err)
}

// NewSubscribeRequest creates a new Subscribe request
func NewSubscribeRequest(path string, format Format, id uint64) *Message {
	return &Message{MsgType: MsgTSubscribe, Path: path, Format: format, ID: id}
}

// NewSubscribeResponse creates a new Subscribe response
func NewSubscribeResponse(id uint64, err error) *Message {
	return withError(&Message{MsgType: MsgTSubscribe, ID: id}, err)
}

// NewUnsubscribeRequest creates a new Unsubscribe request
func NewUnsubscribeRequest(id uint64) *Message {
	return &Message{MsgType: MsgTUnsubscribe, ID: id}
}

// NewUnsubscribeResponse creates a new Unsubscribe response
func NewUnsubscribeResponse(id uint64, err error) *Message {
	return withError(&Message{MsgType: MsgTUnsubscribe, ID: id}, err)
}

// NewWriteRequest creates a new Write request
func NewWriteRequest(path string, timestamp Timestamp, format Format, value []byte) *Message {
	return &Message{MsgType: MsgTWrite, Path: path, Timestamp: timestamp, Format: format, Value: value}
}

// NewWriteResponse creates a new Write response
func NewWriteResponse(err error) *Message {
	return withError(&Message{MsgType: MsgTWrite}, err)
}

// NewPersistRequest creates a new Persist request
func NewPersistRequest(path, scope string) *Message {
	return &Message{MsgType: MsgTPersist, Path: path, Scope: scope}
}

// NewPersistResponse creates a new Persist response
func NewPersistResponse(err error) *Message {
	return withError(&Message{MsgType: MsgTPersist}, err)
}

// NewUpdate creates a pushed subscription update. A failed update ends the subscription.
func NewUpdate(id uint64, timestamp Timestamp, value []byte, err error) *Message {
	return withError(&Message{MsgType: MsgTUpdate, ID: id, Timestamp: timestamp, Value: value}, err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(reason string) *Message {
	return &Message{MsgType: MsgTError, Reason: reason}
}

func withError(msg *Message, err error) *Message {
	if err != nil {
		msg.Reason = err.Error()
		return msg
	}
	msg.Ok = true
	return msg
}

// --------------------------------------------------------------------------
// Remote Errors
// --------------------------------------------------------------------------

// RemoteError is returned by clients for responses with Ok=false.
type RemoteError struct {
	Kind   MessageType
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Kind, e.Reason)
}

// Err converts a response into an error. It returns nil for successful responses.
func (m *Message) Err() error {
	if m.Ok {
		return nil
	}
	return &RemoteError{Kind: m.MsgType, Reason: m.Reason}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTGetPaths:
		return "getPaths"
	case MsgTRead:
		return "read"
	case MsgTSubscribe:
		return "subscribe"
	case MsgTUnsubscribe:
		return "unsubscribe"
	case MsgTWrite:
		return "write"
	case MsgTPersist:
		return "persist"
	case MsgTUpdate:
		return "update"
	case MsgTError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for candidate := MsgTError; candidate <= MsgTUpdate; candidate++ {
		if candidate.String() == s {
			*t = candidate
			return nil
		}
	}
	if s == "unknown" {
		*t = MsgTUnknown
		return nil
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	MsgTUnknown MessageType = iota
	MsgTError               // Indicates an error not tied to a request type

	// Requests (each answered by a response of the same type)

	MsgTGetPaths    // Enumerate output or parameter paths
	MsgTRead        // Read a snapshot
	MsgTSubscribe   // Open a subscription
	MsgTUnsubscribe // Close a subscription
	MsgTWrite       // Write to a sink
	MsgTPersist     // Persist a parameter subtree

	// Server push

	MsgTUpdate // Subscription update
)
