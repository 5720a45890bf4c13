package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ValentinKolb/dCycle/lib/cycler"
	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/node"
	"github.com/ValentinKolb/dCycle/lib/nodes"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/path"
	"github.com/ValentinKolb/dCycle/lib/recorder"
	"github.com/ValentinKolb/dCycle/lib/router"
	"github.com/ValentinKolb/dCycle/rpc/client"
	"github.com/ValentinKolb/dCycle/rpc/common"
	"github.com/ValentinKolb/dCycle/rpc/serializer"
	"github.com/ValentinKolb/dCycle/rpc/transport/tcp"
)

// --------------------------------------------------------------------------
// Test nodes
// --------------------------------------------------------------------------

var sequenceNode = &node.Descriptor{
	Name:            "Sequence",
	MainOutputs:     []node.Output{{Name: "sequence", Type: uint64(0)}},
	PersistentState: []string{"sequence"},
	New: func(*node.CreationContext) (node.Node, error) {
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			n, err := node.PersistentState[uint64](ctx, "sequence")
			if err != nil {
				return err
			}
			*n++
			return node.SetMainOutput(ctx, "sequence", *n)
		}), nil
	},
}

var sequenceCollectorNode = &node.Descriptor{
	Name:            "SequenceCollector",
	Inputs:          []node.InputBinding{{Name: "sequences", Kind: node.InputPerception, Cycler: "VisionTop", Output: "sequence"}},
	MainOutputs:     []node.Output{{Name: "seen", Type: []uint64(nil)}},
	PersistentState: []string{"seen"},
	New: func(*node.CreationContext) (node.Node, error) {
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			view, err := node.Perception[uint64](ctx, "sequences")
			if err != nil {
				return err
			}
			seen, err := node.PersistentState[[]uint64](ctx, "seen")
			if err != nil {
				return err
			}
			*seen = append(*seen, view.Temporary...)
			return node.SetMainOutput(ctx, "seen", append([]uint64(nil), *seen...))
		}), nil
	},
}

var ballWriterNode = &node.Descriptor{
	Name:        "BallWriter",
	Parameters:  []string{"test.ball"},
	MainOutputs: []node.Output{{Name: "ball_position", Type: nodes.Vector2{}}},
	New: func(*node.CreationContext) (node.Node, error) {
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			ball, err := node.Parameter[nodes.Vector2](ctx, "test.ball")
			if err != nil {
				return err
			}
			return node.SetMainOutput(ctx, "ball_position", ball)
		}), nil
	},
}

// counterNode counts its cycles up to test.limit.
var counterNode = &node.Descriptor{
	Name:            "Counter",
	Parameters:      []string{"test.limit"},
	MainOutputs:     []node.Output{{Name: "counter", Type: uint64(0)}},
	PersistentState: []string{"counter"},
	New: func(*node.CreationContext) (node.Node, error) {
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			limit, err := node.Parameter[uint64](ctx, "test.limit")
			if err != nil {
				return err
			}
			n, err := node.PersistentState[uint64](ctx, "counter")
			if err != nil {
				return err
			}
			if *n < limit {
				*n++
			}
			return node.SetMainOutput(ctx, "counter", *n)
		}), nil
	},
}

var failingNode = &node.Descriptor{
	Name: "Failing",
	New: func(*node.CreationContext) (node.Node, error) {
		return node.NodeFunc(func(*node.CycleContext) error {
			return errors.New("joint temperature too high")
		}), nil
	},
}

var brokenNode = &node.Descriptor{
	Name: "Broken",
	New: func(*node.CreationContext) (node.Node, error) {
		return nil, errors.New("calibration missing")
	},
}

// blockingNode blocks its first cycle until release is closed.
func blockingNode(entered chan<- struct{}, release <-chan struct{}) *node.Descriptor {
	var once sync.Once
	return &node.Descriptor{
		Name: "Blocking",
		New: func(*node.CreationContext) (node.Node, error) {
			return node.NodeFunc(func(*node.CycleContext) error {
				once.Do(func() { close(entered) })
				<-release
				return nil
			}), nil
		},
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

const counterManifest = `
cyclers:
  - name: Control
    kind: realtime
    period: 1ms
    nodes: [BallWriter, Counter]
`

func counterParameters(limit int) map[string]any {
	return map[string]any{
		"test": map[string]any{
			"limit": limit,
			"ball":  map[string]any{"x": 0, "y": 0},
		},
	}
}

func writeJSON(t *testing.T, file string, tree any) {
	t.Helper()
	data, err := json.Marshal(tree)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, data, 0o644))
}

func readJSON(t *testing.T, file string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var tree map[string]any
	require.NoError(t, json.Unmarshal(data, &tree))
	return tree
}

// newRuntime assembles a runtime from a manifest and the default parameter layer. configure may
// adjust the configuration before New.
func newRuntime(t *testing.T, manifest string, params map[string]any, configure func(*Config), extra ...*node.Descriptor) *Runtime {
	t.Helper()
	dir := t.TempDir()
	manifestFile := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestFile, []byte(manifest), 0o644))
	parametersDir := filepath.Join(dir, "parameters")
	writeJSON(t, filepath.Join(parametersDir, "default.json"), params)

	config := Config{
		Manifest:           manifestFile,
		ParametersDir:      parametersDir,
		StatisticsInterval: 10 * time.Millisecond,
	}
	if configure != nil {
		configure(&config)
	}

	registry := referenceRegistry(t, append([]*node.Descriptor{
		sequenceNode, sequenceCollectorNode, ballWriterNode, counterNode, failingNode, brokenNode,
	}, extra...)...)
	hw := hardware.NewSimulated(time.Millisecond)
	t.Cleanup(hw.Close)

	rt, err := New(config, registry, hw)
	require.NoError(t, err)
	return rt
}

func start(t *testing.T, rt *Runtime) {
	t.Helper()
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() {
		rt.Stop()
		_ = rt.Wait()
	})
}

func read(rt *Runtime, p string) (any, error) {
	v, err := rt.Router().Read(path.MustParse(p))
	return v.Data, err
}

func readNumber(rt *Runtime, p string) float64 {
	v, err := read(rt, p)
	if err != nil {
		return -1
	}
	f, ok := v.(float64)
	if !ok {
		return -1
	}
	return f
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestPeerReadsAreFresh(t *testing.T) {
	rt := newRuntime(t, `
cyclers:
  - {name: Control, kind: realtime, period: 2ms, nodes: [VisionMonitor]}
  - {name: Vision, kind: perception, instances: [Top], setup_nodes: [ImageReceiver], nodes: [CycleCounter]}
`, map[string]any{}, nil)
	start(t, rt)

	require.Eventually(t, func() bool {
		return readNumber(rt, "Control.main_outputs.observed_vision_cycle") > 5
	}, 5*time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		observed := readNumber(rt, "Control.main_outputs.observed_vision_cycle")
		last := readNumber(rt, "VisionTop.main_outputs.last_cycle_id")
		assert.LessOrEqual(t, observed, last)
		time.Sleep(3 * time.Millisecond)
	}
}

func TestPerceptionItemsAreDeliveredOnce(t *testing.T) {
	rt := newRuntime(t, `
cyclers:
  - {name: Control, kind: realtime, period: 5ms, nodes: [SequenceCollector]}
  - {name: Vision, kind: perception, period: 2ms, instances: [Top], nodes: [Sequence]}
`, map[string]any{}, nil)
	start(t, rt)

	var seen []any
	require.Eventually(t, func() bool {
		v, err := read(rt, "Control.main_outputs.seen")
		if err != nil {
			return false
		}
		seen, _ = v.([]any)
		return len(seen) >= 20
	}, 5*time.Second, 10*time.Millisecond)

	for i, sequence := range seen {
		assert.Equal(t, float64(i+1), sequence)
	}
}

func TestSubscriptionOverProtocol(t *testing.T) {
	const limit = 300
	rt := newRuntime(t, counterManifest, counterParameters(limit), func(c *Config) {
		c.Server = common.ServerConfig{
			Endpoint:       "127.0.0.1:0",
			Transport:      "tcp",
			Serializer:     "binary",
			TimeoutSecond:  5,
			WorkersPerConn: 4,
		}
	})
	start(t, rt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := client.NewRPCClient(common.ClientConfig{
		Endpoint:      rt.Addr(),
		Transport:     "tcp",
		Serializer:    "binary",
		TimeoutSecond: 5,
		RetryCount:    1,
	}, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer c.Close()

	paths, err := c.Paths(ctx, "outputs")
	require.NoError(t, err)
	assert.Contains(t, paths, "Control.main_outputs.counter")

	// every value change reaches the subscriber
	ball, err := c.Subscribe(ctx, "Control.main_outputs.ball_position", common.FormatText)
	require.NoError(t, err)
	var first client.Value
	for first.Data == nil {
		first, err = ball.Next(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]any{"x": 0.0, "y": 0.0}, first.Data)

	require.NoError(t, c.Write(ctx, "parameters.test.ball", map[string]any{"x": 1.5, "y": -2}, common.FormatText))
	next, err := ball.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.5, "y": -2.0}, next.Data)
	require.NoError(t, ball.Unsubscribe(ctx))

	// a subscriber that does not read keeps only the newest value
	counter, err := c.Subscribe(ctx, "Control.main_outputs.counter", common.FormatText)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, err := c.Read(ctx, "Control.main_outputs.counter", common.FormatText)
		return err == nil && v.Data == float64(limit)
	}, 5*time.Second, 10*time.Millisecond)

	var values []any
	for {
		nextCtx, nextCancel := context.WithTimeout(ctx, 200*time.Millisecond)
		v, err := counter.Next(nextCtx)
		nextCancel()
		if err != nil {
			break
		}
		values = append(values, v.Data)
	}
	require.NotEmpty(t, values)
	assert.Less(t, len(values), 5)
	assert.Equal(t, float64(limit), values[len(values)-1])
	assert.Positive(t, counter.Dropped())
}

func TestDeepParameterWrite(t *testing.T) {
	params := counterParameters(10)
	params["foo"] = map[string]any{"a": map[string]any{"b": 1, "c": 2}}
	rt := newRuntime(t, counterManifest, params, nil)
	start(t, rt)

	require.NoError(t, rt.Router().Write(path.MustParse("parameters.foo.a.b"), time.Now(), 3))
	v, err := read(rt, "parameters.foo")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 3.0, "c": 2.0}}, v)

	// only the written subtree reaches the file
	require.NoError(t, rt.Router().Persist(path.MustParse("parameters.foo.a"), "default"))
	stored := readJSON(t, filepath.Join(rt.config.ParametersDir, "default.json"))
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 3.0, "c": 2.0}}, stored["foo"])
	assert.Equal(t, 10.0, stored["test"].(map[string]any)["limit"])
}

func TestParameterLayers(t *testing.T) {
	params := counterParameters(10)
	params["x"] = 1
	params["y"] = map[string]any{"a": 1}
	rt := newRuntime(t, counterManifest, params, func(c *Config) {
		c.Identity = parameters.Identity{HeadID: "h1"}
		writeJSON(t, filepath.Join(c.ParametersDir, "head.h1.json"), map[string]any{
			"y": map[string]any{"a": 2, "b": 3},
		})
	})

	x, err := read(rt, "parameters.x")
	require.NoError(t, err)
	assert.Equal(t, 1.0, x)
	y, err := read(rt, "parameters.y")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 2.0, "b": 3.0}, y)
}

func TestAdditionalOutputsOnlyWhenRequested(t *testing.T) {
	rt := newRuntime(t, `
cyclers:
  - {name: Control, kind: realtime, period: 2ms, nodes: [BallFilter]}
`, map[string]any{
		"ball_filter": map[string]any{"smoothing": 0.5, "max_residual": 1.0},
	}, nil)
	start(t, rt)

	require.Eventually(t, func() bool {
		return readNumber(rt, "Runtime.statistics.Control.cycle.count") >= 10
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, readNumber(rt, "Control.main_outputs.debug_field_computations"))

	sub, err := rt.Router().Subscribe(path.MustParse("Control.additional_outputs.debug_field"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var debug router.Value
	for debug.Data == nil {
		debug, err = sub.Next(ctx)
		require.NoError(t, err)
	}
	assert.Contains(t, debug.Data, "measurements")
	assert.Positive(t, readNumber(rt, "Control.main_outputs.debug_field_computations"))
	sub.Close()
}

func TestFatalNodeStopsRuntime(t *testing.T) {
	rt := newRuntime(t, `
cyclers:
  - {name: Control, kind: realtime, period: 1ms, nodes: [Failing], fatal_nodes: [Failing]}
`, map[string]any{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := rt.Run(ctx)

	var cycleErr *cycler.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.True(t, cycleErr.Fatal)
	assert.Equal(t, "Control", cycleErr.Cycler)
	assert.Equal(t, "Failing", cycleErr.Node)
}

func TestNonFatalNodeKeepsCycling(t *testing.T) {
	rt := newRuntime(t, `
cyclers:
  - {name: Control, kind: realtime, period: 1ms, nodes: [Failing, Counter]}
`, counterParameters(1000), nil)
	start(t, rt)

	require.Eventually(t, func() bool {
		return readNumber(rt, "Runtime.statistics.Control.cycle.count") >= 5
	}, 5*time.Second, 5*time.Millisecond)
	// failed cycles are never published
	_, err := read(rt, "Control.main_outputs.counter")
	assert.NoError(t, err)
	assert.Equal(t, -1.0, readNumber(rt, "Control.main_outputs.counter"))

	rt.Stop()
	assert.NoError(t, rt.Wait())
}

func TestFailingConstructor(t *testing.T) {
	rt := newRuntime(t, `
cyclers:
  - {name: Control, kind: realtime, period: 1ms, nodes: [Counter]}
  - {name: Audio, kind: perception, period: 1ms, nodes: [Broken]}
`, counterParameters(10), nil)

	err := rt.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calibration missing")
	assert.Equal(t, err, rt.Wait())
}

func TestStopTwiceAborts(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	rt := newRuntime(t, `
cyclers:
  - {name: Control, kind: realtime, period: 1ms, nodes: [Blocking]}
`, map[string]any{}, nil, blockingNode(entered, release))
	require.NoError(t, rt.Start(context.Background()))
	<-entered

	done := make(chan error, 1)
	go func() { done <- rt.Wait() }()

	rt.Stop()
	select {
	case err := <-done:
		t.Fatalf("wait returned while a cycle was running: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	rt.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after the second stop")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	rt := newRuntime(t, counterManifest, counterParameters(10), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.Eventually(t, func() bool {
		return readNumber(rt, "Control.main_outputs.counter") == 10
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Zero(t, rt.Router().SubscriptionCount())
}

func TestMetricsEndpoint(t *testing.T) {
	rt := newRuntime(t, counterManifest, counterParameters(10), func(c *Config) {
		c.MetricsEndpoint = "127.0.0.1:0"
	})
	start(t, rt)

	require.Eventually(t, func() bool {
		return readNumber(rt, "Control.main_outputs.counter") > 0
	}, 5*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + rt.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `dcycle_cycles_total{cycler="Control"}`)
	assert.Contains(t, string(body), `dcycle_router_requests_total{op="read"}`)
}

func TestStatistics(t *testing.T) {
	rt := newRuntime(t, counterManifest, counterParameters(10), nil)
	start(t, rt)

	require.Eventually(t, func() bool {
		return readNumber(rt, "Runtime.statistics.Control.Counter.count") > 0
	}, 5*time.Second, 5*time.Millisecond)

	paths := rt.Router().Paths(router.KindOutputs)
	assert.Contains(t, paths, "Runtime.statistics.Control.cycle.mean_ms")
	assert.Contains(t, paths, "Control.main_outputs.ball_position")
	assert.NotContains(t, paths, "parameters.test.limit")
	assert.Contains(t, rt.Router().Paths(router.KindParameters), "parameters.test.limit")
}

func TestRecorder(t *testing.T) {
	file := filepath.Join(t.TempDir(), "recording.jsonl")
	rt := newRuntime(t, counterManifest, counterParameters(20), func(c *Config) {
		c.Record = file
		c.RecordPaths = []string{"Control.main_outputs.counter"}
	})
	require.NoError(t, rt.Start(context.Background()))

	require.Eventually(t, func() bool {
		return readNumber(rt, "Control.main_outputs.counter") == 20
	}, 5*time.Second, 5*time.Millisecond)
	rt.Stop()
	require.NoError(t, rt.Wait())

	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()
	entries, err := recorder.ReadAll(f)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "Control.main_outputs.counter", e.Path)
	}
}

func TestWatchParameters(t *testing.T) {
	rt := newRuntime(t, counterManifest, counterParameters(10), func(c *Config) {
		c.WatchParameters = true
	})
	start(t, rt)

	require.Eventually(t, func() bool {
		return readNumber(rt, "Control.main_outputs.counter") == 10
	}, 5*time.Second, 5*time.Millisecond)

	// give the watcher time to register before the file changes
	time.Sleep(50 * time.Millisecond)
	writeJSON(t, filepath.Join(rt.config.ParametersDir, "default.json"), counterParameters(15))

	require.Eventually(t, func() bool {
		return readNumber(rt, "Control.main_outputs.counter") == 15
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDefaultManifestRuns(t *testing.T) {
	registry := referenceRegistry(t)
	hw := hardware.NewSimulated(5 * time.Millisecond)
	t.Cleanup(hw.Close)

	rt, err := New(Config{ParametersDir: filepath.Join("..", "..", "etc", "parameters")}, registry, hw)
	require.NoError(t, err)
	start(t, rt)

	require.Eventually(t, func() bool {
		return readNumber(rt, "Control.main_outputs.observed_vision_cycle") > 2
	}, 5*time.Second, 5*time.Millisecond)

	payload, err := msgpack.Marshal(nodes.TeamMessage{Player: "2", BallPosition: &nodes.Vector2{X: 1, Y: 1}})
	require.NoError(t, err)
	require.True(t, hw.Inject(hardware.NetworkMessage{Sender: "2", Payload: payload}))
	require.Eventually(t, func() bool {
		return readNumber(rt, "Control.main_outputs.received_messages") == 1
	}, 5*time.Second, 5*time.Millisecond)

	v, err := read(rt, "Control.main_outputs.team_ball")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1.0, "y": 1.0}, v)
}

func TestNewReportsAssemblyErrors(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "default.json"), map[string]any{})
	registry := referenceRegistry(t)

	_, err := New(Config{ParametersDir: dir}, registry, hardware.NewSimulated(0))
	assert.ErrorIs(t, err, node.ErrMissingParameter)

	manifest := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
cyclers:
  - {name: Control, kind: realtime, nodes: [Kinematics]}
`), 0o644))
	_, err = New(Config{Manifest: manifest, ParametersDir: dir}, registry, hardware.NewSimulated(0))
	assert.ErrorIs(t, err, node.ErrUnknownNode)
}
