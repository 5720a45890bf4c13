package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/dCycle/lib/database"
	"github.com/ValentinKolb/dCycle/lib/historic"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/perception"
)

func newNoop(*CreationContext) (Node, error) {
	return NodeFunc(func(*CycleContext) error { return nil }), nil
}

func desc(name string, outputs []string, inputs ...string) *Descriptor {
	d := &Descriptor{Name: name, New: newNoop}
	for _, o := range outputs {
		d.MainOutputs = append(d.MainOutputs, Output{Name: o})
	}
	for _, in := range inputs {
		d.Inputs = append(d.Inputs, InputBinding{Name: in, Kind: InputLocal, Required: true})
	}
	return d
}

func names(ds []*Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

func TestOrderTopological(t *testing.T) {
	sensor := desc("SensorReceiver", []string{"sensor_data"})
	ball := desc("BallFilter", []string{"ball_position"}, "sensor_data", "robot_pose")
	pose := desc("Localization", []string{"robot_pose"}, "sensor_data")
	behavior := desc("Behavior", []string{"motion_command"}, "ball_position", "robot_pose")
	led := desc("LedStatus", nil)

	ordered, err := Order("Control", []*Descriptor{sensor}, []*Descriptor{behavior, led, ball, pose})
	require.NoError(t, err)
	assert.Equal(t, []string{"SensorReceiver", "LedStatus", "Localization", "BallFilter", "Behavior"}, names(ordered))
}

func TestOrderErrors(t *testing.T) {
	a := desc("A", []string{"a"}, "b")
	b := desc("B", []string{"b"}, "a")
	_, err := Order("Control", nil, []*Descriptor{a, b})
	assert.ErrorIs(t, err, ErrCycle)

	self := desc("Self", []string{"x"}, "x")
	_, err = Order("Control", nil, []*Descriptor{self})
	assert.ErrorIs(t, err, ErrCycle)

	lonely := desc("Lonely", nil, "nobody")
	_, err = Order("Control", nil, []*Descriptor{lonely})
	assert.ErrorIs(t, err, ErrMissingProducer)

	optional := desc("Optional", nil)
	optional.Inputs = []InputBinding{{Name: "nobody", Kind: InputLocal}}
	_, err = Order("Control", nil, []*Descriptor{optional})
	assert.NoError(t, err)

	_, err = Order("Control", nil, []*Descriptor{desc("X", []string{"o"}), desc("Y", []string{"o"})})
	assert.ErrorIs(t, err, ErrDuplicateOutput)

	setup := desc("Setup", []string{"s"}, "c")
	cycle := desc("Cycle", []string{"c"})
	_, err = Order("Control", []*Descriptor{setup}, []*Descriptor{cycle})
	assert.ErrorIs(t, err, ErrMissingProducer)

	var assembly *AssemblyError
	require.ErrorAs(t, err, &assembly)
	assert.Equal(t, "Control", assembly.Cycler)
	assert.Equal(t, "Setup", assembly.Node)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(desc("A", []string{"a"})))
	assert.Error(t, r.Register(desc("A", nil)))
	assert.Error(t, r.Register(&Descriptor{Name: "NoConstructor"}))
	assert.Error(t, r.Register(&Descriptor{Name: "Peer", New: newNoop, Inputs: []InputBinding{{Name: "x", Kind: InputPeer}}}))

	_, err := r.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownNode)
	d, err := r.Lookup("A")
	require.NoError(t, err)
	assert.Equal(t, "A", d.Name)
	assert.Equal(t, []string{"A"}, r.Names())
}

type vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func testEnvironment() *Environment {
	layout := &database.Layout{}
	_ = layout.Add(database.SectionMainOutputs, database.Output{Name: "ball_position"})
	_ = layout.Add(database.SectionAdditionalOutputs, database.Output{Name: "debug_field"})
	own := database.New(layout)

	peer := &database.Database{MainOutputs: map[string]any{"last_cycle_id": uint64(7)}}
	return &Environment{
		Context:        context.Background(),
		Cycler:         "Control",
		CycleStartTime: time.UnixMilli(2000),
		Own:            own,
		Peers:          map[string]*database.Database{"VisionTop": peer, "Audio": nil},
		Parameters: &parameters.Snapshot{Version: 1, Tree: map[string]any{
			"ball_filter": map[string]any{"noise": map[string]any{"x": 0.5, "y": 0.25}},
		}},
		ParameterCache: NewParameterCache(),
		Persistent:     database.NewState(),
		CyclerState:    database.NewState(),
		Historic:       historic.New(),
		Perception:     perception.New([]string{"VisionTop"}, 0),
		Requests:       database.NewRequests(),
	}
}

func contextDescriptor() *Descriptor {
	return &Descriptor{
		Name:       "BallFilter",
		New:        newNoop,
		Parameters: []string{"ball_filter"},
		Inputs: []InputBinding{
			{Name: "vision_cycle", Kind: InputPeer, Cycler: "VisionTop", Output: "last_cycle_id", Required: true},
			{Name: "audio", Kind: InputPeer, Cycler: "Audio", Output: "whistle"},
			{Name: "past_ball", Kind: InputHistoric, Output: "ball_position"},
			{Name: "balls", Kind: InputPerception, Cycler: "VisionTop"},
		},
		MainOutputs:       []Output{{Name: "ball_position", Type: vec2{}}},
		AdditionalOutputs: []Output{{Name: "debug_field", Type: ""}},
		PersistentState:   []string{"filter"},
		CyclerState:       []string{"motion"},
	}
}

func TestParameterAccess(t *testing.T) {
	env := testEnvironment()
	ctx := NewCycleContext(contextDescriptor(), env)

	noise, err := Parameter[vec2](ctx, "ball_filter.noise")
	require.NoError(t, err)
	assert.Equal(t, vec2{X: 0.5, Y: 0.25}, noise)

	x, err := Parameter[float64](ctx, "ball_filter.noise.x")
	require.NoError(t, err)
	assert.Equal(t, 0.5, x)

	_, err = Parameter[float64](ctx, "walking.speed")
	assert.ErrorIs(t, err, ErrUndeclared)
	_, err = Parameter[float64](ctx, "ball_filterx")
	assert.ErrorIs(t, err, ErrUndeclared)
	_, err = Parameter[string](ctx, "ball_filter.noise")
	assert.Error(t, err)

	// a new snapshot invalidates the cache
	env.Parameters = &parameters.Snapshot{Version: 2, Tree: map[string]any{
		"ball_filter": map[string]any{"noise": map[string]any{"x": 1.0, "y": 1.0}},
	}}
	x, err = Parameter[float64](ctx, "ball_filter.noise.x")
	require.NoError(t, err)
	assert.Equal(t, 1.0, x)

	creation := NewCreationContext(contextDescriptor(), "Control", nil, env.Parameters, NewParameterCache())
	noise, err = Parameter[vec2](creation, "ball_filter.noise")
	require.NoError(t, err)
	assert.Equal(t, vec2{X: 1, Y: 1}, noise)
}

func TestInputs(t *testing.T) {
	env := testEnvironment()
	ctx := NewCycleContext(contextDescriptor(), env)

	id, err := RequiredInput[uint64](ctx, "vision_cycle")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)

	_, ok, err := Input[bool](ctx, "audio")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Input[string](ctx, "vision_cycle")
	assert.ErrorIs(t, err, ErrType)

	_, _, err = Input[int](ctx, "undeclared")
	assert.ErrorIs(t, err, ErrUndeclared)

	_, _, err = Input[int](ctx, "past_ball")
	assert.ErrorIs(t, err, ErrUndeclared)

	env.Peers["VisionTop"] = nil
	_, _, err = Input[uint64](ctx, "vision_cycle")
	assert.ErrorIs(t, err, ErrAbsent)
}

func TestOutputsAndHistory(t *testing.T) {
	env := testEnvironment()
	ctx := NewCycleContext(contextDescriptor(), env)

	require.NoError(t, SetMainOutput(ctx, "ball_position", vec2{X: 1, Y: 2}))
	assert.ErrorIs(t, SetMainOutput(ctx, "ball_position", 3), ErrType)
	assert.ErrorIs(t, SetMainOutput(ctx, "robot_pose", 3), ErrUndeclared)

	env.Historic.Update(time.UnixMilli(1000), map[string]any{"ball_position": vec2{X: 9}}, nil)

	past, ok, err := Historic[vec2](ctx, "past_ball", time.UnixMilli(1500))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec2{X: 9}, past)

	now, ok, err := Historic[vec2](ctx, "past_ball", env.CycleStartTime)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec2{X: 1, Y: 2}, now)
}

func TestAdditionalOutputGating(t *testing.T) {
	env := testEnvironment()
	ctx := NewCycleContext(contextDescriptor(), env)

	calls := 0
	compute := func() (any, error) { calls++; return "expensive", nil }

	out := ctx.AdditionalOutput("debug_field")
	assert.False(t, out.IsRequested())
	require.NoError(t, out.Fill(compute))
	assert.Equal(t, 0, calls)
	assert.Nil(t, env.Own.AdditionalOutputs["debug_field"])

	release := env.Requests.Acquire("debug_field")
	defer release()
	require.NoError(t, out.Fill(compute))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "expensive", env.Own.AdditionalOutputs["debug_field"])

	assert.ErrorIs(t, ctx.AdditionalOutput("unknown").Set(1), ErrUndeclared)
	assert.False(t, ctx.AdditionalOutput("unknown").IsRequested())
}

func TestStateAndPerception(t *testing.T) {
	env := testEnvironment()
	ctx := NewCycleContext(contextDescriptor(), env)

	filter, err := PersistentState[[]float64](ctx, "filter")
	require.NoError(t, err)
	*filter = append(*filter, 1)
	again, _ := PersistentState[[]float64](ctx, "filter")
	assert.Equal(t, []float64{1}, *again)

	_, err = PersistentState[int](ctx, "other")
	assert.ErrorIs(t, err, ErrUndeclared)

	motion, err := CyclerState[string](ctx, "motion")
	require.NoError(t, err)
	*motion = "walk"
	require.NoError(t, ResetCyclerState(ctx, "motion"))
	motion, _ = CyclerState[string](ctx, "motion")
	assert.Equal(t, "", *motion)

	env.Perception.Add("VisionTop", time.UnixMilli(1000), map[string]any{"balls": 2})
	view, err := Perception[int](ctx, "balls")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, view.Temporary)

	require.NoError(t, ResetPerception(ctx, "balls"))
	view, _ = Perception[int](ctx, "balls")
	assert.Empty(t, view.Persistent)
}
