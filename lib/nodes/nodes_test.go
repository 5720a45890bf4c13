package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/cycler"
	"github.com/ValentinKolb/dCycle/lib/database"
	"github.com/ValentinKolb/dCycle/lib/futurequeue"
	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/node"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/path"
)

var testParameters = map[string]any{
	"ball_filter":        map[string]any{"smoothing": 0.5, "max_residual": 3.0},
	"ball_detection":     map[string]any{"orbit_radius": 2.0, "angular_speed": 0.0, "detection_interval": 1.0},
	"team_communication": map[string]any{"player": "1", "send_interval": 1.0},
}

// fakeClock is a hardware interface without capabilities and a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

type harness struct {
	buffer   *buffer.Buffer[*database.Database]
	requests *database.Requests
	cycler   *cycler.Cycler
}

func newHarness(t *testing.T, name string, kind cycler.Kind, hw hardware.IInterface, wiring cycler.Wiring, descriptors ...*node.Descriptor) *harness {
	t.Helper()

	layout := &database.Layout{}
	for _, d := range descriptors {
		for _, o := range d.MainOutputs {
			require.NoError(t, layout.Add(database.SectionMainOutputs, database.Output{Name: o.Name, Type: path.DescribeValue(o.Type)}))
		}
		for _, o := range d.AdditionalOutputs {
			require.NoError(t, layout.Add(database.SectionAdditionalOutputs, database.Output{Name: o.Name, Type: path.DescribeValue(o.Type)}))
		}
	}
	store := parameters.NewStoreFromTree(t.TempDir(), parameters.Identity{}, testParameters, 1)

	h := &harness{
		buffer:   buffer.New(buffer.SlotCount(1, 1), func() *database.Database { return database.New(layout) }),
		requests: database.NewRequests(),
	}
	wiring.Buffer = h.buffer
	wiring.Watch = buffer.NewWatch()
	wiring.Requests = h.requests
	wiring.Parameters = store.Buffer()
	wiring.Hardware = hw
	h.cycler = cycler.New(cycler.Config{Name: name, Kind: kind, Nodes: descriptors}, wiring)
	require.NoError(t, h.cycler.Setup())
	return h
}

func (h *harness) cycle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.cycler.Cycle(context.Background()))
}

func (h *harness) latest() *database.Database {
	guard := h.buffer.NextRead()
	defer guard.Release()
	return *guard.Value()
}

func TestRegister(t *testing.T) {
	reg := node.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Len(t, reg.Names(), len(All()))

	d, err := reg.Lookup("BallFilter")
	require.NoError(t, err)
	assert.Same(t, BallFilter, d)

	// names are unique
	assert.Error(t, Register(reg))
}

func TestCameraOf(t *testing.T) {
	position, err := cameraOf("VisionTop")
	require.NoError(t, err)
	assert.Equal(t, hardware.CameraTop, position)

	position, err = cameraOf("VisionBottom")
	require.NoError(t, err)
	assert.Equal(t, hardware.CameraBottom, position)

	_, err = cameraOf("Control")
	assert.Error(t, err)
}

func TestVisionCycler(t *testing.T) {
	sim := hardware.NewSimulated(time.Millisecond)
	defer sim.Close()
	h := newHarness(t, "VisionBottom", cycler.Perception, sim, cycler.Wiring{},
		ImageReceiver, CycleCounter, BallDetection)

	for i := 0; i < 3; i++ {
		h.cycle(t)
	}

	db := h.latest()
	assert.Equal(t, uint64(3), db.MainOutputs["last_cycle_id"])
	image, ok := db.MainOutputs["image"].(hardware.Image)
	require.True(t, ok)
	assert.Equal(t, uint64(3), image.Sequence)
	// bottom camera, angle 0
	assert.Equal(t, []Vector2{{X: 1.0, Y: 0}}, db.MainOutputs["balls"])
}

func TestImageReceiverNeedsCamera(t *testing.T) {
	store := parameters.NewStoreFromTree(t.TempDir(), parameters.Identity{}, testParameters, 1)
	ctx := node.NewCreationContext(ImageReceiver, "VisionTop", &fakeClock{}, store.Current(), node.NewParameterCache())
	_, err := ImageReceiver.New(ctx)
	assert.Error(t, err)

	ctx = node.NewCreationContext(ImageReceiver, "Control", hardware.NewSimulated(0), store.Current(), node.NewParameterCache())
	_, err = ImageReceiver.New(ctx)
	assert.Error(t, err)
}

func TestBallFilterGatesDebugField(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1000)}
	producer, consumer := futurequeue.New[cycler.Item]()
	h := newHarness(t, "Control", cycler.RealTime, clock, cycler.Wiring{
		Consumers: map[string]*futurequeue.Consumer[cycler.Item]{"VisionTop": consumer},
	}, BallFilter)

	// no subscriber, no work
	producer.Announce(time.UnixMilli(900))
	producer.Finalize(cycler.Item{"balls": []Vector2{{X: 1, Y: 2}}})
	h.cycle(t)

	db := h.latest()
	assert.Equal(t, Vector2{X: 1, Y: 2}, db.MainOutputs["ball_position"])
	assert.Nil(t, db.AdditionalOutputs["debug_field"])
	assert.Equal(t, uint64(0), db.MainOutputs["debug_field_computations"])

	release := h.requests.Acquire("debug_field")
	clock.now = time.UnixMilli(1010)
	producer.Announce(time.UnixMilli(1005))
	producer.Finalize(cycler.Item{"balls": []Vector2{{X: 3, Y: 2}}})
	h.cycle(t)

	db = h.latest()
	// halfway towards the new measurement
	assert.Equal(t, Vector2{X: 2, Y: 2}, db.MainOutputs["ball_position"])
	debug, ok := db.AdditionalOutputs["debug_field"].(BallFilterDebug)
	require.True(t, ok)
	assert.Equal(t, 1, debug.Measurements)
	assert.Equal(t, []float64{2}, debug.Residuals)
	assert.Equal(t, uint64(1), db.MainOutputs["debug_field_computations"])

	// the field is produced every cycle while requested
	clock.now = time.UnixMilli(1020)
	h.cycle(t)
	assert.Equal(t, uint64(2), h.latest().MainOutputs["debug_field_computations"])

	release()
	clock.now = time.UnixMilli(1030)
	h.cycle(t)
	db = h.latest()
	assert.Nil(t, db.AdditionalOutputs["debug_field"])
	assert.Equal(t, uint64(2), db.MainOutputs["debug_field_computations"])
}

func TestBallFilterRejectsOutliers(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1000)}
	producer, consumer := futurequeue.New[cycler.Item]()
	h := newHarness(t, "Control", cycler.RealTime, clock, cycler.Wiring{
		Consumers: map[string]*futurequeue.Consumer[cycler.Item]{"VisionTop": consumer},
	}, BallFilter)

	producer.Announce(time.UnixMilli(900))
	producer.Finalize(cycler.Item{"balls": []Vector2{{X: 0, Y: 0}}})
	h.cycle(t)

	clock.now = time.UnixMilli(1010)
	producer.Announce(time.UnixMilli(1005))
	producer.Finalize(cycler.Item{"balls": []Vector2{{X: 10, Y: 0}}})
	h.cycle(t)

	assert.Equal(t, Vector2{}, h.latest().MainOutputs["ball_position"])
}

func TestTeamCommunication(t *testing.T) {
	sim := hardware.NewSimulated(0)
	defer sim.Close()
	producer, consumer := futurequeue.New[cycler.Item]()
	h := newHarness(t, "Control", cycler.RealTime, sim, cycler.Wiring{
		Consumers: map[string]*futurequeue.Consumer[cycler.Item]{"SPLNetwork": consumer},
	}, TeamCommunication)

	mate, err := msgpack.Marshal(&TeamMessage{Player: "2", BallPosition: &Vector2{X: 3, Y: 4}})
	require.NoError(t, err)
	own, err := msgpack.Marshal(&TeamMessage{Player: "1", BallPosition: &Vector2{X: -1, Y: -1}})
	require.NoError(t, err)

	for _, payload := range [][]byte{mate, own, []byte("garbage")} {
		producer.Announce(time.Now().Add(-time.Second))
		producer.Finalize(cycler.Item{"message": hardware.NetworkMessage{Sender: "udp", Payload: payload}})
	}
	h.cycle(t)

	db := h.latest()
	assert.Equal(t, uint64(3), db.MainOutputs["received_messages"])
	assert.Equal(t, Vector2{X: 3, Y: 4}, db.MainOutputs["team_ball"])

	sent := sim.Sent()
	require.Len(t, sent, 1)
	var decoded TeamMessage
	require.NoError(t, msgpack.Unmarshal(sent[0].Payload, &decoded))
	assert.Equal(t, "1", decoded.Player)
	// no ball_position producer in this cycler
	assert.Nil(t, decoded.BallPosition)
}
