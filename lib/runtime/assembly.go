package runtime

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/cycler"
	"github.com/ValentinKolb/dCycle/lib/database"
	"github.com/ValentinKolb/dCycle/lib/node"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/path"
)

// routerReaders is the number of readers the router adds to every cycler buffer: one per
// published section.
const routerReaders = 2

// Instance is one assembled cycler instance.
type Instance struct {
	Name   string
	Kind   cycler.Kind
	Period time.Duration
	// Nodes in execution order, setup nodes first.
	Nodes  []*node.Descriptor
	Fatal  map[string]bool
	Layout *database.Layout
	// Peers are the instances this instance reads through peer inputs.
	Peers []string
	// Readers is the number of other instances reading this instance's buffer.
	Readers int
}

// SlotCount is the number of slots of the instance's database buffer.
func (i *Instance) SlotCount() int {
	return buffer.SlotCount(i.Readers+routerReaders, 1)
}

// Plan is the result of assembling a manifest.
type Plan struct {
	// Instances in manifest order.
	Instances []*Instance
	// RealTime is the name of the realtime instance, Perception the names of all perception
	// instances in manifest order.
	RealTime   string
	Perception []string
}

// Instance returns the instance with the given name.
func (p *Plan) Instance(name string) (*Instance, bool) {
	for _, i := range p.Instances {
		if i.Name == name {
			return i, true
		}
	}
	return nil, false
}

// --------------------------------------------------------------------------
// Assembly
// --------------------------------------------------------------------------

// Assemble resolves the nodes of every cycler instance, orders them and validates the bindings
// between instances. Every failure is a *node.AssemblyError.
func Assemble(m *Manifest, registry *node.Registry) (*Plan, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{}
	for _, c := range m.Cyclers {
		kind, _ := cycler.ParseKind(c.Kind)
		for _, name := range c.InstanceNames() {
			instance, err := assembleInstance(name, kind, c, registry)
			if err != nil {
				return nil, err
			}
			plan.Instances = append(plan.Instances, instance)
			if kind == cycler.RealTime {
				plan.RealTime = name
			} else {
				plan.Perception = append(plan.Perception, name)
			}
		}
	}

	for _, instance := range plan.Instances {
		if err := plan.bind(instance); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func assembleInstance(name string, kind cycler.Kind, c CyclerManifest, registry *node.Registry) (*Instance, error) {
	resolve := func(names []string) ([]*node.Descriptor, error) {
		out := make([]*node.Descriptor, 0, len(names))
		for _, n := range names {
			d, err := registry.Lookup(n)
			if err != nil {
				return nil, node.NewAssemblyError(node.RetCUnknownNode, name, n, "node is not registered")
			}
			out = append(out, d)
		}
		return out, nil
	}
	setup, err := resolve(c.SetupNodes)
	if err != nil {
		return nil, err
	}
	cycle, err := resolve(c.Nodes)
	if err != nil {
		return nil, err
	}
	ordered, err := node.Order(name, setup, cycle)
	if err != nil {
		return nil, err
	}

	layout := &database.Layout{}
	for _, d := range ordered {
		for _, section := range []struct {
			name    string
			outputs []node.Output
		}{
			{database.SectionMainOutputs, d.MainOutputs},
			{database.SectionAdditionalOutputs, d.AdditionalOutputs},
		} {
			for _, o := range section.outputs {
				err := layout.Add(section.name, database.Output{Name: o.Name, Type: path.DescribeValue(o.Type)})
				if err != nil {
					return nil, node.NewAssemblyError(node.RetCDuplicateOutput, name, d.Name, err.Error())
				}
			}
		}
	}

	fatal := make(map[string]bool, len(c.FatalNodes))
	for _, n := range c.FatalNodes {
		fatal[n] = true
	}

	return &Instance{
		Name:   name,
		Kind:   kind,
		Period: c.Period,
		Nodes:  ordered,
		Fatal:  fatal,
		Layout: layout,
	}, nil
}

// bind validates the peer, perception and historic inputs of an instance against the other
// instances and records the buffer readers.
//
// Inputs naming an instance that is not part of the manifest fail only when they are required.
// Optional ones stay absent at runtime.
func (p *Plan) bind(instance *Instance) error {
	peers := map[string]bool{}
	for _, d := range instance.Nodes {
		for _, in := range d.Inputs {
			fail := func(code node.RetCode, msg string) error {
				return node.NewAssemblyError(code, instance.Name, d.Name, fmt.Sprintf("input %q: %s", in.Name, msg))
			}

			switch in.Kind {
			case node.InputPeer:
				if in.Cycler == instance.Name {
					return fail(node.RetCInvalid, "peer input of the own cycler, use a local input")
				}
				producer, ok := p.Instance(in.Cycler)
				if !ok || !producer.Layout.Has(database.SectionMainOutputs, in.OutputName()) {
					if in.Required {
						return fail(node.RetCMissingProducer, fmt.Sprintf("no main output %s.%s", in.Cycler, in.OutputName()))
					}
					Logger.Warningf("%s.%s: optional input %q has no producer %s.%s",
						instance.Name, d.Name, in.Name, in.Cycler, in.OutputName())
					continue
				}
				if !peers[producer.Name] {
					peers[producer.Name] = true
					instance.Peers = append(instance.Peers, producer.Name)
					producer.Readers++
				}

			case node.InputPerception:
				if instance.Kind != cycler.RealTime {
					return fail(node.RetCInvalid, "perception inputs are only available in the realtime cycler")
				}
				producer, ok := p.Instance(in.Cycler)
				if !ok {
					Logger.Warningf("%s.%s: perception input %q names the unknown cycler %s, it stays empty",
						instance.Name, d.Name, in.Name, in.Cycler)
					continue
				}
				if producer.Kind != cycler.Perception {
					return fail(node.RetCInvalid, fmt.Sprintf("%s is no perception cycler", producer.Name))
				}
				if !producer.Layout.Has(database.SectionMainOutputs, in.OutputName()) {
					return fail(node.RetCMissingProducer, fmt.Sprintf("no main output %s.%s", producer.Name, in.OutputName()))
				}

			case node.InputHistoric:
				if instance.Kind != cycler.RealTime {
					return fail(node.RetCInvalid, "historic inputs are only available in the realtime cycler")
				}
				if !instance.Layout.Has(database.SectionMainOutputs, in.OutputName()) {
					return fail(node.RetCMissingProducer, fmt.Sprintf("no main output %s", in.OutputName()))
				}
			}
		}
	}
	return nil
}

// CheckParameters verifies that every parameter path a node declares exists in the snapshot.
func (p *Plan) CheckParameters(snapshot *parameters.Snapshot) error {
	for _, instance := range p.Instances {
		for _, d := range instance.Nodes {
			for _, declared := range d.Parameters {
				parsed, err := path.Parse(declared)
				if err != nil {
					return node.NewAssemblyError(node.RetCInvalid, instance.Name, d.Name, err.Error())
				}
				if _, err := path.Traverse(snapshot.Tree, parsed); err != nil {
					return node.NewAssemblyError(node.RetCMissingParameter, instance.Name, d.Name,
						fmt.Sprintf("parameter %s: %v", declared, err))
				}
			}
		}
	}
	return nil
}
