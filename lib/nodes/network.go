package nodes

import (
	"fmt"

	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/node"
)

// MessageReceiver blocks until the next team message arrives. It paces the network cycler, every
// received message becomes one perception item.
var MessageReceiver = &node.Descriptor{
	Name:        "MessageReceiver",
	Source:      "lib/nodes/network.go",
	MainOutputs: []node.Output{{Name: "message", Type: hardware.NetworkMessage{}}},
	New: func(ctx *node.CreationContext) (node.Node, error) {
		network, ok := ctx.Hardware().(hardware.INetwork)
		if !ok {
			return nil, fmt.Errorf("hardware interface %T has no network", ctx.Hardware())
		}
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			message, err := network.ReadFromNetwork(ctx.Context())
			if err != nil {
				return fmt.Errorf("receiving team message: %w", err)
			}
			return node.SetMainOutput(ctx, "message", message)
		}), nil
	},
}
