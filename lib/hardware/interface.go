// Package hardware defines the hardware capability the runtime hands to nodes, and a simulated
// implementation used by the default manifest and the tests.
//
// Drivers are external collaborators. Nodes discover the optional capabilities of an Interface with
// a type assertion, e.g. hw.(hardware.ICamera). Every blocking receive takes a context so that it
// observes the runtime's cancellation.
package hardware

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by receives on a closed hardware interface.
var ErrClosed = errors.New("hardware: interface closed")

// IInterface is the base capability every hardware interface provides.
type IInterface interface {
	// Now returns the hardware clock.
	Now() time.Time
}

// CameraPosition selects one of the robot cameras.
type CameraPosition string

const (
	CameraTop    CameraPosition = "Top"
	CameraBottom CameraPosition = "Bottom"
)

// Image is one camera frame.
type Image struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Data      []byte    `json:"-"`
}

// ICamera provides camera frames.
type ICamera interface {
	// ReadImage blocks until the next frame of the camera is available.
	ReadImage(ctx context.Context, position CameraPosition) (Image, error)
}

// NetworkMessage is a datagram received from or sent to the team network.
type NetworkMessage struct {
	Sender  string `json:"sender"`
	Payload []byte `json:"payload"`
}

// INetwork provides the team network.
type INetwork interface {
	// ReadFromNetwork blocks until a message is received.
	ReadFromNetwork(ctx context.Context) (NetworkMessage, error)
	// WriteToNetwork sends a message without blocking.
	WriteToNetwork(message NetworkMessage) error
}
