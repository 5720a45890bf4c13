package nodes

import (
	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/dCycle/lib/node"
)

var Logger = logger.GetLogger("nodes")

// All returns the descriptors of all reference nodes.
func All() []*node.Descriptor {
	return []*node.Descriptor{
		CycleTimer,
		VisionMonitor,
		BallFilter,
		TeamCommunication,
		ImageReceiver,
		CycleCounter,
		BallDetection,
		MessageReceiver,
	}
}

// Register adds all reference nodes to reg.
func Register(reg *node.Registry) error {
	for _, d := range All() {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
