package hardware

import (
	"context"
	"sync"
	"time"
)

// DefaultFramePeriod is the frame period of the simulated cameras (30 fps).
const DefaultFramePeriod = 33 * time.Millisecond

// Simulated is an in-memory hardware interface. Cameras deliver synthetic frames at a fixed rate,
// network messages are injected by the caller.
type Simulated struct {
	framePeriod time.Duration

	mu        sync.Mutex
	sequences map[CameraPosition]uint64
	nextFrame map[CameraPosition]time.Time
	sent      []NetworkMessage

	inbox     chan NetworkMessage
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSimulated creates a simulated hardware interface. A framePeriod <= 0 selects DefaultFramePeriod.
func NewSimulated(framePeriod time.Duration) *Simulated {
	if framePeriod <= 0 {
		framePeriod = DefaultFramePeriod
	}
	return &Simulated{
		framePeriod: framePeriod,
		sequences:   make(map[CameraPosition]uint64),
		nextFrame:   make(map[CameraPosition]time.Time),
		inbox:       make(chan NetworkMessage, 64),
		closed:      make(chan struct{}),
	}
}

// Now implements IInterface.
func (s *Simulated) Now() time.Time {
	return time.Now()
}

// ReadImage implements ICamera. Frames of one camera are spaced by the frame period.
func (s *Simulated) ReadImage(ctx context.Context, position CameraPosition) (Image, error) {
	s.mu.Lock()
	due := s.nextFrame[position]
	now := time.Now()
	if due.Before(now) {
		due = now
	}
	s.nextFrame[position] = due.Add(s.framePeriod)
	s.sequences[position]++
	sequence := s.sequences[position]
	s.mu.Unlock()

	timer := time.NewTimer(time.Until(due))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Image{}, ctx.Err()
	case <-s.closed:
		return Image{}, ErrClosed
	case <-timer.C:
	}

	return Image{
		Sequence:  sequence,
		Timestamp: due,
		Width:     640,
		Height:    480,
	}, nil
}

// ReadFromNetwork implements INetwork.
func (s *Simulated) ReadFromNetwork(ctx context.Context) (NetworkMessage, error) {
	select {
	case <-ctx.Done():
		return NetworkMessage{}, ctx.Err()
	case <-s.closed:
		return NetworkMessage{}, ErrClosed
	case msg := <-s.inbox:
		return msg, nil
	}
}

// WriteToNetwork implements INetwork. Sent messages are kept for inspection.
func (s *Simulated) WriteToNetwork(message NetworkMessage) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.mu.Lock()
	s.sent = append(s.sent, message)
	s.mu.Unlock()
	return nil
}

// Inject queues a message for ReadFromNetwork. It returns false if the inbox is full.
func (s *Simulated) Inject(message NetworkMessage) bool {
	select {
	case s.inbox <- message:
		return true
	default:
		return false
	}
}

// Sent returns a copy of all messages written to the network.
func (s *Simulated) Sent() []NetworkMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NetworkMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// Close makes all pending and future receives fail with ErrClosed.
func (s *Simulated) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
