/*
Package runtime assembles a framework manifest into running cyclers.

A manifest (YAML, see manifest.yaml for the built-in one) lists the cyclers of a robot:

	cyclers:
	  - name: Control
	    kind: realtime
	    period: 10ms
	    setup_nodes: [CycleTimer]
	    nodes: [VisionMonitor, BallFilter, TeamCommunication]
	  - name: Vision
	    kind: perception
	    instances: [Top, Bottom]
	    setup_nodes: [ImageReceiver]
	    nodes: [CycleCounter, BallDetection]

New resolves the nodes in a node.Registry, orders them, checks every binding between cycler
instances and the declared parameters, and sizes the buffers: a database buffer has
readers + 2 slots (at least 3), where the readers are the instances with peer inputs on it and
the two router sections.

The router mounts of a runtime are

	<Instance>.main_outputs         read, subscribe
	<Instance>.additional_outputs   read, subscribe (enables production)
	parameters                      read, subscribe, write, persist
	Runtime.statistics              read, subscribe

Start runs every cycler on its own OS thread and then the services: the protocol endpoint,
the statistics source, the optional /metrics endpoint, the parameter watcher and the recorder.
The first Stop lets every cycler finish its current cycle, the second one aborts:

	rt, err := runtime.New(config, registry, hardware.NewSimulated(0))
	if err != nil {
		return err
	}
	return rt.Run(ctx)
*/
package runtime
