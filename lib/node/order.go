package node

import (
	"fmt"
	"strings"
)

// Order returns the execution order of a cycler's nodes: all setup nodes first, then all cycle
// nodes. Within each partition nodes are sorted topologically along main output -> local input
// edges; independent nodes keep their declaration order.
//
// It fails if two nodes produce the same main output, if a required local input has no producer,
// if a setup node consumes the output of a cycle node, or if the dependencies form a cycle.
func Order(cycler string, setup, cycle []*Descriptor) ([]*Descriptor, error) {
	producers := map[string]*Descriptor{}
	isSetup := map[*Descriptor]bool{}
	for _, partition := range [][]*Descriptor{setup, cycle} {
		for _, d := range partition {
			for _, o := range d.MainOutputs {
				if other, ok := producers[o.Name]; ok {
					return nil, NewAssemblyError(RetCDuplicateOutput, cycler, d.Name,
						fmt.Sprintf("main output %q is also produced by %s", o.Name, other.Name))
				}
				producers[o.Name] = d
			}
		}
	}
	for _, d := range setup {
		isSetup[d] = true
	}

	for _, partition := range [][]*Descriptor{setup, cycle} {
		for _, d := range partition {
			for _, in := range d.Inputs {
				if in.Kind != InputLocal {
					continue
				}
				producer, ok := producers[in.OutputName()]
				if !ok {
					if in.Required {
						return nil, NewAssemblyError(RetCMissingProducer, cycler, d.Name,
							fmt.Sprintf("no node produces %q", in.OutputName()))
					}
					continue
				}
				if isSetup[d] && !isSetup[producer] {
					return nil, NewAssemblyError(RetCMissingProducer, cycler, d.Name,
						fmt.Sprintf("setup node consumes %q of cycle node %s", in.OutputName(), producer.Name))
				}
			}
		}
	}

	orderedSetup, err := sortPartition(cycler, setup, producers)
	if err != nil {
		return nil, err
	}
	orderedCycle, err := sortPartition(cycler, cycle, producers)
	if err != nil {
		return nil, err
	}
	return append(orderedSetup, orderedCycle...), nil
}

// sortPartition is Kahn's algorithm that always picks the first ready node in declaration order.
func sortPartition(cycler string, nodes []*Descriptor, producers map[string]*Descriptor) ([]*Descriptor, error) {
	inPartition := map[*Descriptor]bool{}
	for _, d := range nodes {
		inPartition[d] = true
	}

	dependencies := map[*Descriptor]map[*Descriptor]bool{}
	for _, d := range nodes {
		dependencies[d] = map[*Descriptor]bool{}
		for _, in := range d.Inputs {
			if in.Kind != InputLocal {
				continue
			}
			producer, ok := producers[in.OutputName()]
			if !ok || !inPartition[producer] {
				continue
			}
			if producer == d {
				return nil, NewAssemblyError(RetCCycle, cycler, d.Name,
					fmt.Sprintf("node consumes its own output %q", in.OutputName()))
			}
			dependencies[d][producer] = true
		}
	}

	ordered := make([]*Descriptor, 0, len(nodes))
	done := map[*Descriptor]bool{}
	for len(ordered) < len(nodes) {
		progress := false
		for _, d := range nodes {
			if done[d] || !ready(dependencies[d], done) {
				continue
			}
			ordered = append(ordered, d)
			done[d] = true
			progress = true
			break
		}
		if !progress {
			var stuck []string
			for _, d := range nodes {
				if !done[d] {
					stuck = append(stuck, d.Name)
				}
			}
			return nil, NewAssemblyError(RetCCycle, cycler, "",
				fmt.Sprintf("circular dependency between %s", strings.Join(stuck, ", ")))
		}
	}
	return ordered, nil
}

func ready(dependencies map[*Descriptor]bool, done map[*Descriptor]bool) bool {
	for dep := range dependencies {
		if !done[dep] {
			return false
		}
	}
	return true
}
