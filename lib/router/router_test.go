package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/database"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/path"
)

type ballPosition struct {
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"position"`
	Confidence float64 `json:"confidence"`
}

// fakeCycler is a cycler database buffer that is published by hand.
type fakeCycler struct {
	layout   *database.Layout
	buffer   *buffer.Buffer[*database.Database]
	watch    *buffer.Watch
	requests *database.Requests
}

func newFakeCycler(t *testing.T) *fakeCycler {
	layout := &database.Layout{}
	require.NoError(t, layout.Add(database.SectionMainOutputs, database.Output{Name: "ball", Type: path.DescribeValue(ballPosition{})}))
	require.NoError(t, layout.Add(database.SectionMainOutputs, database.Output{Name: "cycle_id", Type: path.DescribeValue(0)}))
	require.NoError(t, layout.Add(database.SectionAdditionalOutputs, database.Output{Name: "debug_field", Type: path.DescribeValue([]float64{})}))
	return &fakeCycler{
		layout:   layout,
		buffer:   buffer.New(buffer.SlotCount(2, 1), func() *database.Database { return database.New(layout) }),
		watch:    buffer.NewWatch(),
		requests: database.NewRequests(),
	}
}

func (f *fakeCycler) publish(cycleID int, ball *ballPosition) {
	guard := f.buffer.NextWrite()
	db := *guard.Value()
	db.Reset(time.UnixMilli(int64(cycleID)))
	db.MainOutputs["cycle_id"] = cycleID
	if ball != nil {
		db.MainOutputs["ball"] = *ball
	}
	guard.Release()
	f.watch.Notify()
}

func (f *fakeCycler) mount(t *testing.T, r *Router) {
	require.NoError(t, r.Mount(Mount{
		Prefix: path.MustParse("Control.main_outputs"),
		Kind:   KindOutputs,
		Source: NewCyclerSource(database.SectionMainOutputs, f.layout, f.buffer, f.watch, nil),
	}))
	require.NoError(t, r.Mount(Mount{
		Prefix: path.MustParse("Control.additional_outputs"),
		Kind:   KindOutputs,
		Source: NewCyclerSource(database.SectionAdditionalOutputs, f.layout, f.buffer, f.watch, f.requests),
	}))
}

func newParameterRouter(t *testing.T) (*Router, *parameters.Store) {
	tree := map[string]any{
		"walking": map[string]any{"step_length": 0.05, "gains": []any{1.0, 2.0}},
		"vision":  map[string]any{"threshold": 3.0},
	}
	store := parameters.NewStoreFromTree(t.TempDir(), parameters.Identity{}, tree, 1)
	r := New(nil)
	source := NewParameterSource(store)
	require.NoError(t, r.Mount(Mount{Prefix: path.MustParse("parameters"), Kind: KindParameters, Source: source, Sink: source}))
	return r, store
}

// --------------------------------------------------------------------------
// Mount Table
// --------------------------------------------------------------------------

func TestMountConflict(t *testing.T) {
	r := New(nil)
	f := newFakeCycler(t)
	f.mount(t, r)

	err := r.Mount(Mount{
		Prefix: path.MustParse("Control.main_outputs"),
		Source: NewCyclerSource(database.SectionMainOutputs, f.layout, f.buffer, f.watch, nil),
	})
	assert.ErrorIs(t, err, ErrMountConflict)
	assert.ErrorIs(t, r.Mount(Mount{Prefix: path.MustParse("empty")}), ErrMountConflict)
}

func TestNestedMountsConflict(t *testing.T) {
	r, _ := newParameterRouter(t)
	nested := NewParameterSource(parameters.NewStoreFromTree(t.TempDir(), parameters.Identity{},
		map[string]any{"threshold": 7.0}, 1))

	err := r.Mount(Mount{Prefix: path.MustParse("parameters.vision"), Kind: KindParameters, Source: nested})
	assert.ErrorIs(t, err, ErrMountConflict)

	// the parent below an existing mount is rejected too
	r = New(nil)
	require.NoError(t, r.Mount(Mount{Prefix: path.MustParse("parameters.vision"), Kind: KindParameters, Source: nested}))
	err = r.Mount(Mount{Prefix: path.MustParse("parameters"), Kind: KindParameters, Source: nested})
	assert.ErrorIs(t, err, ErrMountConflict)
}

func TestResolveFindsTheMatchingMount(t *testing.T) {
	r, store := newParameterRouter(t)
	other := NewParameterSource(parameters.NewStoreFromTree(t.TempDir(), parameters.Identity{},
		map[string]any{"threshold": 7.0}, 1))
	require.NoError(t, r.Mount(Mount{Prefix: path.MustParse("Vision.parameters"), Kind: KindParameters, Source: other}))

	v, err := r.Read(path.MustParse("Vision.parameters.threshold"))
	require.NoError(t, err)
	assert.Equal(t, 7.0, v.Data)

	v, err = r.Read(path.MustParse("parameters.vision.threshold"))
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Data)

	v, err = r.Read(path.MustParse("parameters.walking.step_length"))
	require.NoError(t, err)
	assert.Equal(t, 0.05, v.Data)
	assert.Equal(t, store.Current().Timestamp, v.Timestamp)

	_, err = r.Read(path.MustParse("Vision.other"))
	assert.ErrorIs(t, err, ErrNoSuchPath)
}

func TestResolveDoesNotCacheRequestedPaths(t *testing.T) {
	r, _ := newParameterRouter(t)
	for i := 0; i < 100; i++ {
		_, _ = r.Read(path.Path{"parameters", "missing", fmt.Sprint(i)})
	}
	assert.Equal(t, 1, r.lookup.Size())
}

func TestUnknownPaths(t *testing.T) {
	r, _ := newParameterRouter(t)

	_, err := r.Read(path.MustParse("Unknown.main_outputs"))
	assert.ErrorIs(t, err, ErrNoSuchPath)

	_, err = r.Read(path.MustParse("parameters.walking.missing"))
	assert.ErrorIs(t, err, ErrNoSuchPath)

	_, err = r.Subscribe(path.MustParse("parameters.walking.missing"))
	assert.ErrorIs(t, err, ErrNoSuchPath)
}

// --------------------------------------------------------------------------
// Cycler Sources
// --------------------------------------------------------------------------

func TestCyclerSourceRead(t *testing.T) {
	r := New(nil)
	f := newFakeCycler(t)
	f.mount(t, r)

	// nothing produced yet: declared paths read as null
	v, err := r.Read(path.MustParse("Control.main_outputs.ball.position.x"))
	require.NoError(t, err)
	assert.Nil(t, v.Data)

	ball := &ballPosition{Confidence: 0.9}
	ball.Position.X = 1.5
	f.publish(42, ball)

	v, err = r.Read(path.MustParse("Control.main_outputs.ball.position.x"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, v.Data)
	assert.Equal(t, time.UnixMilli(42), v.Timestamp)

	v, err = r.Read(path.MustParse("Control.main_outputs"))
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.Data.(map[string]any)["cycle_id"])

	_, err = r.Read(path.MustParse("Control.main_outputs.ball.velocity"))
	assert.ErrorIs(t, err, ErrNoSuchPath)

	assert.ErrorIs(t, r.Write(path.MustParse("Control.main_outputs.cycle_id"), time.Now(), 1), ErrNotWritable)
}

func TestCyclerSourcePaths(t *testing.T) {
	r := New(nil)
	newFakeCycler(t).mount(t, r)

	paths := r.Paths(KindOutputs)
	assert.Equal(t, "ballPosition", paths["Control.main_outputs.ball"])
	assert.Equal(t, "float64", paths["Control.main_outputs.ball.position.x"])
	assert.Equal(t, "int", paths["Control.main_outputs.cycle_id"])
	assert.Equal(t, "[]float64", paths["Control.additional_outputs.debug_field"])
	assert.Empty(t, r.Paths(KindParameters))
}

func TestAdditionalOutputRequests(t *testing.T) {
	r := New(nil)
	f := newFakeCycler(t)
	f.mount(t, r)
	debugField := path.MustParse("Control.additional_outputs.debug_field")

	assert.False(t, f.requests.IsRequested("debug_field"))

	_, err := r.Read(debugField)
	require.NoError(t, err)
	assert.True(t, f.requests.IsRequested("debug_field"), "a read leases the output")

	sub, err := r.Subscribe(debugField)
	require.NoError(t, err)
	assert.True(t, f.requests.IsRequested("debug_field"))
	sub.Close()

	// main outputs are always produced and never tracked
	_, err = r.Read(path.MustParse("Control.main_outputs.cycle_id"))
	require.NoError(t, err)
	assert.False(t, f.requests.IsRequested("cycle_id"))
}

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

func TestSubscribeDeliversChanges(t *testing.T) {
	r := New(nil)
	f := newFakeCycler(t)
	f.mount(t, r)
	f.publish(1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := r.Subscribe(path.MustParse("Control.main_outputs.cycle_id"))
	require.NoError(t, err)
	defer sub.Close()

	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.Data)

	f.publish(2, nil)
	next, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, next.Data)
}

func TestSubscribeSkipsUnchangedValues(t *testing.T) {
	r := New(nil)
	f := newFakeCycler(t)
	f.mount(t, r)
	f.publish(1, nil)

	sub, err := r.Subscribe(path.MustParse("Control.main_outputs.ball"))
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = sub.Next(ctx)
	require.NoError(t, err)

	// the ball stays absent, only the cycle id changes
	f.publish(2, nil)
	f.publish(3, nil)

	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	_, err = sub.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscriptionIsLatestOnly(t *testing.T) {
	r := New(nil)
	f := newFakeCycler(t)
	f.mount(t, r)
	f.publish(0, nil)

	sub, err := r.Subscribe(path.MustParse("Control.main_outputs.cycle_id"))
	require.NoError(t, err)
	defer sub.Close()

	// the consumer sleeps while many cycles are published
	for i := 1; i <= 50; i++ {
		f.publish(i, nil)
	}

	// the forwarder overwrote the unconsumed initial value
	require.Eventually(t, func() bool { return sub.Dropped() > 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var received []float64
	require.Eventually(t, func() bool {
		short, cancelShort := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancelShort()
		v, err := sub.Next(short)
		if err != nil {
			return false
		}
		received = append(received, v.Data.(float64))
		return v.Data == 50.0
	}, time.Second, time.Millisecond)

	assert.Less(t, len(received), 51, "intermediate values must be dropped")
	assert.Positive(t, sub.Dropped())
	for i := 1; i < len(received); i++ {
		assert.Greater(t, received[i], received[i-1])
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	r, _ := newParameterRouter(t)
	sub, err := r.Subscribe(path.MustParse("parameters.walking"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sub.Next(ctx)
	require.NoError(t, err)

	r.Close()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = r.Subscribe(path.MustParse("parameters.walking"))
	assert.ErrorIs(t, err, ErrClosed)
}

// --------------------------------------------------------------------------
// Parameters
// --------------------------------------------------------------------------

func TestParameterWrite(t *testing.T) {
	r, store := newParameterRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := r.Subscribe(path.MustParse("parameters.walking.step_length"))
	require.NoError(t, err)
	defer sub.Close()
	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.05, first.Data)

	require.NoError(t, r.Write(path.MustParse("parameters.walking.step_length"), time.Now(), 0.07))

	update, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.07, update.Data)

	// untouched siblings are unchanged
	v, err := r.Read(path.MustParse("parameters.walking.gains"))
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, v.Data)
	assert.Equal(t, uint64(2), store.Current().Version)
}

func TestParameterWriteShapeMismatch(t *testing.T) {
	r, store := newParameterRouter(t)

	err := r.Write(path.MustParse("parameters.walking.step_length"), time.Now(), "fast")
	assert.ErrorIs(t, err, ErrDecode)

	err = r.Write(path.MustParse("parameters"), time.Now(), []any{1.0})
	assert.ErrorIs(t, err, ErrDecode)

	err = r.Write(path.MustParse("parameters.walking.unknown"), time.Now(), 1.0)
	assert.ErrorIs(t, err, ErrNoSuchPath)

	assert.Equal(t, uint64(1), store.Current().Version, "failed writes publish nothing")
}

func TestParameterWriteStructValue(t *testing.T) {
	r, _ := newParameterRouter(t)
	value := struct {
		StepLength float64   `json:"step_length"`
		Gains      []float64 `json:"gains"`
	}{StepLength: 0.1, Gains: []float64{3}}

	require.NoError(t, r.Write(path.MustParse("parameters.walking"), time.Now(), value))

	v, err := r.Read(path.MustParse("parameters.walking.gains.0"))
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Data)
}

func TestPersistUnknownScope(t *testing.T) {
	r, _ := newParameterRouter(t)
	err := r.Persist(path.MustParse("parameters.walking"), "everywhere")
	assert.ErrorIs(t, err, parameters.ErrMissing)

	f := newFakeCycler(t)
	f.mount(t, r)
	assert.ErrorIs(t, r.Persist(path.MustParse("Control.main_outputs.ball"), "head"), ErrNotWritable)
}

func TestParameterPaths(t *testing.T) {
	r, _ := newParameterRouter(t)
	paths := r.Paths(KindParameters)
	assert.Equal(t, "object", paths["parameters.walking"])
	assert.Equal(t, "number", paths["parameters.walking.step_length"])
	assert.Equal(t, "array", paths["parameters.walking.gains"])
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

func TestStatisticsSource(t *testing.T) {
	registry := gometrics.NewRegistry()
	timer := gometrics.GetOrRegisterTimer("Control.BallFilter", registry)
	timer.Update(2 * time.Millisecond)
	timer.Update(4 * time.Millisecond)
	gometrics.GetOrRegisterCounter("unrelated", registry).Inc(1)

	source := NewStatisticsSource(registry, 10*time.Millisecond)
	r := New(nil)
	require.NoError(t, r.Mount(Mount{Prefix: path.MustParse("Runtime.statistics"), Kind: KindOutputs, Source: source}))

	v, err := r.Read(path.MustParse("Runtime.statistics.Control.BallFilter.count"))
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.Data)

	v, err = r.Read(path.MustParse("Runtime.statistics.Control.BallFilter.max_ms"))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, v.Data, 0.001)

	assert.Equal(t, "number", r.Paths(KindOutputs)["Runtime.statistics.Control.BallFilter.mean_ms"])

	ctx, cancel := context.WithCancel(context.Background())
	go source.Run(ctx)
	sub, err := r.Subscribe(path.MustParse("Runtime.statistics.Control.BallFilter.count"))
	require.NoError(t, err)
	defer sub.Close()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), time.Second)
	defer cancelWait()
	_, err = sub.Next(waitCtx)
	require.NoError(t, err)

	timer.Update(time.Millisecond)
	v, err = sub.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Data)

	cancel()
	_, err = sub.Next(waitCtx)
	assert.ErrorIs(t, err, ErrClosed)
}
