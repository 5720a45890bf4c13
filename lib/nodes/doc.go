/*
Package nodes contains the reference nodes of the default framework manifest.

They are no robot algorithms. They exercise every binding a node can declare and give the
runtime, the tooling and the end-to-end tests something realistic to run:

	Control       CycleTimer (setup), VisionMonitor, BallFilter, TeamCommunication
	VisionTop     ImageReceiver (setup), CycleCounter, BallDetection
	VisionBottom  ImageReceiver (setup), CycleCounter, BallDetection
	SPLNetwork    MessageReceiver (setup)

Register adds all of them to a registry:

	registry := node.NewRegistry()
	nodes.Register(registry)
*/
package nodes
