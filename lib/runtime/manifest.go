package runtime

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ValentinKolb/dCycle/lib/cycler"
	"github.com/ValentinKolb/dCycle/lib/node"
)

//go:embed manifest.yaml
var defaultManifest []byte

// --------------------------------------------------------------------------
// Manifest
// --------------------------------------------------------------------------

// CyclerManifest declares one cycler and its instances.
type CyclerManifest struct {
	Name string `yaml:"name"`
	// Kind is realtime or perception.
	Kind string `yaml:"kind"`
	// Instances are appended to Name to form the instance names (Vision + Top = VisionTop).
	// Without instances the cycler has a single instance called Name.
	Instances []string `yaml:"instances,omitempty"`
	// Period paces the cycler, e.g. 10ms. Zero means free running.
	Period     time.Duration `yaml:"period,omitempty"`
	SetupNodes []string      `yaml:"setup_nodes,omitempty"`
	Nodes      []string      `yaml:"nodes,omitempty"`
	FatalNodes []string      `yaml:"fatal_nodes,omitempty"`
}

// InstanceNames returns the names of all instances of the cycler.
func (c CyclerManifest) InstanceNames() []string {
	if len(c.Instances) == 0 {
		return []string{c.Name}
	}
	names := make([]string, 0, len(c.Instances))
	for _, instance := range c.Instances {
		names = append(names, c.Name+instance)
	}
	return names
}

// Manifest describes the cyclers of a robot and the nodes they run.
type Manifest struct {
	Cyclers []CyclerManifest `yaml:"cyclers"`
}

// DefaultManifest returns the manifest of the reference robot.
func DefaultManifest() *Manifest {
	m, err := ParseManifest(defaultManifest)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in manifest: %v", err))
	}
	return m
}

// LoadManifest reads a manifest file. An empty file name returns the DefaultManifest.
func LoadManifest(file string) (*Manifest, error) {
	if file == "" {
		return DefaultManifest(), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", file, err)
	}
	return m, nil
}

// ParseManifest decodes and validates a YAML manifest. Unknown fields are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	m := &Manifest{}
	if err := decoder.Decode(m); err != nil {
		return nil, node.NewAssemblyError(node.RetCInvalid, "", "", err.Error())
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the structure of the manifest: unique instance names, known kinds, exactly one
// single-instance realtime cycler and fatal nodes that are part of their cycler. Node names are
// resolved later by Assemble.
func (m *Manifest) Validate() error {
	invalid := func(cycler, msg string) error {
		return node.NewAssemblyError(node.RetCInvalid, cycler, "", msg)
	}

	instances := map[string]bool{}
	realtime := 0
	for _, c := range m.Cyclers {
		if c.Name == "" {
			return invalid("", "cycler without name")
		}
		kind, err := cycler.ParseKind(c.Kind)
		if err != nil {
			return invalid(c.Name, err.Error())
		}
		if c.Period < 0 {
			return invalid(c.Name, fmt.Sprintf("negative period %s", c.Period))
		}
		if kind == cycler.RealTime {
			realtime++
			if len(c.Instances) > 1 {
				return invalid(c.Name, "the realtime cycler has a single instance")
			}
		}
		if len(c.SetupNodes)+len(c.Nodes) == 0 {
			return invalid(c.Name, "cycler without nodes")
		}

		for _, name := range c.InstanceNames() {
			if instances[name] {
				return invalid(name, "instance name is used twice")
			}
			instances[name] = true
		}

		declared := map[string]bool{}
		for _, n := range append(append([]string{}, c.SetupNodes...), c.Nodes...) {
			if declared[n] {
				return node.NewAssemblyError(node.RetCInvalid, c.Name, n, "node is listed twice")
			}
			declared[n] = true
		}
		for _, n := range c.FatalNodes {
			if !declared[n] {
				return node.NewAssemblyError(node.RetCInvalid, c.Name, n, "fatal node is not part of the cycler")
			}
		}
	}
	if realtime != 1 {
		return invalid("", fmt.Sprintf("exactly one realtime cycler is required, found %d", realtime))
	}
	return nil
}
