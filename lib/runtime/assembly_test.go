package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/dCycle/lib/cycler"
	"github.com/ValentinKolb/dCycle/lib/node"
	"github.com/ValentinKolb/dCycle/lib/nodes"
	"github.com/ValentinKolb/dCycle/lib/parameters"
)

func noop(*node.CreationContext) (node.Node, error) {
	return node.NodeFunc(func(*node.CycleContext) error { return nil }), nil
}

func referenceRegistry(t *testing.T, extra ...*node.Descriptor) *node.Registry {
	t.Helper()
	reg := node.NewRegistry()
	require.NoError(t, nodes.Register(reg))
	for _, d := range extra {
		require.NoError(t, reg.Register(d))
	}
	return reg
}

func mustParse(t *testing.T, manifest string) *Manifest {
	t.Helper()
	m, err := ParseManifest([]byte(manifest))
	require.NoError(t, err)
	return m
}

func names(descriptors []*node.Descriptor) []string {
	out := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.Name)
	}
	return out
}

func TestAssembleDefaultManifest(t *testing.T) {
	plan, err := Assemble(DefaultManifest(), referenceRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, "Control", plan.RealTime)
	assert.Equal(t, []string{"VisionTop", "VisionBottom", "SPLNetwork"}, plan.Perception)

	control, ok := plan.Instance("Control")
	require.True(t, ok)
	assert.Equal(t, cycler.RealTime, control.Kind)
	assert.Equal(t, []string{"CycleTimer", "VisionMonitor", "BallFilter", "TeamCommunication"}, names(control.Nodes))
	assert.Equal(t, []string{"VisionTop"}, control.Peers)
	assert.True(t, control.Layout.Has("additional_outputs", "debug_field"))

	// Control reads VisionTop as a peer, the router reads both sections
	top, _ := plan.Instance("VisionTop")
	assert.Equal(t, 1, top.Readers)
	assert.Equal(t, 5, top.SlotCount())
	bottom, _ := plan.Instance("VisionBottom")
	assert.Equal(t, 0, bottom.Readers)
	assert.Equal(t, 4, bottom.SlotCount())
	assert.Equal(t, []string{"ImageReceiver", "CycleCounter", "BallDetection"}, names(bottom.Nodes))
}

func TestAssembleOrdersNodes(t *testing.T) {
	producer := &node.Descriptor{Name: "Producer", MainOutputs: []node.Output{{Name: "value"}}, New: noop}
	consumer := &node.Descriptor{
		Name:   "Consumer",
		Inputs: []node.InputBinding{{Name: "value", Kind: node.InputLocal, Required: true}},
		New:    noop,
	}
	plan, err := Assemble(mustParse(t, `
cyclers:
  - {name: Control, kind: realtime, nodes: [Consumer, Producer]}`), referenceRegistry(t, producer, consumer))
	require.NoError(t, err)
	assert.Equal(t, []string{"Producer", "Consumer"}, names(plan.Instances[0].Nodes))
}

func TestAssemblyErrors(t *testing.T) {
	a := &node.Descriptor{
		Name:        "A",
		Inputs:      []node.InputBinding{{Name: "b", Kind: node.InputLocal, Required: true}},
		MainOutputs: []node.Output{{Name: "a"}},
		New:         noop,
	}
	b := &node.Descriptor{
		Name:        "B",
		Inputs:      []node.InputBinding{{Name: "a", Kind: node.InputLocal, Required: true}},
		MainOutputs: []node.Output{{Name: "b"}},
		New:         noop,
	}
	requiredPeer := &node.Descriptor{
		Name:   "RequiredPeer",
		Inputs: []node.InputBinding{{Name: "x", Kind: node.InputPeer, Cycler: "Audio", Output: "volume", Required: true}},
		New:    noop,
	}
	ownPeer := &node.Descriptor{
		Name:   "OwnPeer",
		Inputs: []node.InputBinding{{Name: "x", Kind: node.InputPeer, Cycler: "Control", Output: "cycle_time"}},
		New:    noop,
	}
	debugA := &node.Descriptor{Name: "DebugA", AdditionalOutputs: []node.Output{{Name: "debug"}}, New: noop}
	debugB := &node.Descriptor{Name: "DebugB", AdditionalOutputs: []node.Output{{Name: "debug"}}, New: noop}
	registry := referenceRegistry(t, a, b, requiredPeer, ownPeer, debugA, debugB)

	tests := map[string]struct {
		manifest string
		err      error
	}{
		"unknown node": {`
cyclers:
  - {name: Control, kind: realtime, nodes: [Kinematics]}`, node.ErrUnknownNode},
		"dependency cycle": {`
cyclers:
  - {name: Control, kind: realtime, nodes: [A, B]}`, node.ErrCycle},
		"missing required peer": {`
cyclers:
  - {name: Control, kind: realtime, nodes: [RequiredPeer]}`, node.ErrMissingProducer},
		"peer input of the own cycler": {`
cyclers:
  - {name: Control, kind: realtime, nodes: [CycleTimer, OwnPeer]}`, node.ErrInvalid},
		"perception input outside the realtime cycler": {`
cyclers:
  - {name: Control, kind: realtime, nodes: [CycleTimer]}
  - {name: Vision, kind: perception, instances: [Top], nodes: [BallFilter]}`, node.ErrInvalid},
		"perception input of a missing output": {`
cyclers:
  - {name: Control, kind: realtime, nodes: [BallFilter]}
  - {name: Vision, kind: perception, instances: [Top], nodes: [CycleCounter]}`, node.ErrMissingProducer},
		"historic input outside the realtime cycler": {`
cyclers:
  - {name: Control, kind: realtime, nodes: [CycleTimer]}
  - {name: Filter, kind: perception, nodes: [BallFilter]}`, node.ErrInvalid},
		"duplicate additional output": {`
cyclers:
  - {name: Control, kind: realtime, nodes: [DebugA, DebugB]}`, node.ErrDuplicateOutput},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Assemble(mustParse(t, tt.manifest), registry)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestOptionalInputsOfMissingCyclers(t *testing.T) {
	// VisionMonitor reads VisionTop and BallFilter perceives both vision cyclers, all optional
	plan, err := Assemble(mustParse(t, `
cyclers:
  - {name: Control, kind: realtime, nodes: [VisionMonitor, BallFilter]}`), referenceRegistry(t))
	require.NoError(t, err)
	assert.Empty(t, plan.Instances[0].Peers)
	assert.Empty(t, plan.Perception)
}

func TestCheckParameters(t *testing.T) {
	plan, err := Assemble(DefaultManifest(), referenceRegistry(t))
	require.NoError(t, err)

	complete := &parameters.Snapshot{Tree: map[string]any{
		"ball_filter":        map[string]any{},
		"ball_detection":     map[string]any{},
		"team_communication": map[string]any{},
	}}
	assert.NoError(t, plan.CheckParameters(complete))

	missing := &parameters.Snapshot{Tree: map[string]any{"ball_filter": map[string]any{}}}
	err = plan.CheckParameters(missing)
	assert.ErrorIs(t, err, node.ErrMissingParameter)
}
