package cycler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/database"
	"github.com/ValentinKolb/dCycle/lib/futurequeue"
	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/historic"
	"github.com/ValentinKolb/dCycle/lib/node"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/perception"
)

var Logger = logger.GetLogger("cycler")

// Item is the payload of a perception item: a copy of the main outputs of one cycle.
type Item = map[string]any

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config describes one cycler instance.
type Config struct {
	// Name is the instance name, e.g. Control or VisionTop.
	Name string
	Kind Kind
	// Period paces the cycler. Zero means free running, paced by blocking hardware reads.
	Period time.Duration
	// Nodes in execution order, setup nodes first.
	Nodes []*node.Descriptor
	// Fatal lists the nodes whose cycle errors stop the runtime.
	Fatal map[string]bool
}

// Wiring connects a cycler to its buffers, queues and collaborators.
type Wiring struct {
	// Buffer is the cycler's own database buffer, Watch is notified after every publication.
	Buffer *buffer.Buffer[*database.Database]
	Watch  *buffer.Watch
	// Requests tracks client interest in the cycler's additional outputs.
	Requests *database.Requests

	// Peers maps peer instance names to their database buffers.
	Peers      map[string]*buffer.Buffer[*database.Database]
	Parameters *buffer.Buffer[*parameters.Snapshot]

	// Producer is set for perception cyclers.
	Producer *futurequeue.Producer[Item]
	// Consumers is set for the real-time cycler, one per perception instance.
	Consumers map[string]*futurequeue.Consumer[Item]

	Hardware hardware.IInterface

	// Statistics receives per node timers, Metrics the exported counters. Both are optional.
	Statistics gometrics.Registry
	Metrics    *vm.Set
}

// --------------------------------------------------------------------------
// Cycler
// --------------------------------------------------------------------------

type instance struct {
	descriptor *node.Descriptor
	node       node.Node
	fatal      bool
	timer      gometrics.Timer
	errors     *vm.Counter
}

// Cycler runs an ordered list of nodes on a dedicated OS thread.
type Cycler struct {
	config Config
	wiring Wiring

	created    bool
	nodes      []*instance
	persistent *database.State
	state      *database.State
	cache      *node.ParameterCache
	historic   *historic.Databases
	perception *perception.Databases
	consumers  []string

	cycleTimer   gometrics.Timer
	cycles       *vm.Counter
	cycleErrors  *vm.Counter
	cycleSeconds *vm.Histogram

	// set while required peer inputs are missing, only transitions are logged
	waitingForPeers bool
}

// New creates a cycler. Nodes are constructed by Run on the cycler's thread.
func New(config Config, wiring Wiring) *Cycler {
	c := &Cycler{
		config:     config,
		wiring:     wiring,
		persistent: database.NewState(),
		state:      database.NewState(),
		cache:      node.NewParameterCache(),
	}
	if config.Kind == RealTime {
		for name := range wiring.Consumers {
			c.consumers = append(c.consumers, name)
		}
		sort.Strings(c.consumers)
		c.historic = historic.New()
		c.perception = perception.New(c.consumers, perception.DefaultLimit)
	}
	if wiring.Statistics == nil {
		c.wiring.Statistics = gometrics.NewRegistry()
	}
	if wiring.Metrics == nil {
		c.wiring.Metrics = vm.NewSet()
	}
	c.cycleTimer = gometrics.GetOrRegisterTimer(config.Name+".cycle", c.wiring.Statistics)
	c.cycles = c.wiring.Metrics.GetOrCreateCounter(fmt.Sprintf(`dcycle_cycles_total{cycler=%q}`, config.Name))
	c.cycleErrors = c.wiring.Metrics.GetOrCreateCounter(fmt.Sprintf(`dcycle_cycle_errors_total{cycler=%q}`, config.Name))
	c.cycleSeconds = c.wiring.Metrics.GetOrCreateHistogram(fmt.Sprintf(`dcycle_cycle_duration_seconds{cycler=%q}`, config.Name))
	return c
}

// Name returns the instance name.
func (c *Cycler) Name() string {
	return c.config.Name
}

// Kind returns the timing class.
func (c *Cycler) Kind() Kind {
	return c.config.Kind
}

func (c *Cycler) now() time.Time {
	if c.wiring.Hardware != nil {
		return c.wiring.Hardware.Now()
	}
	return time.Now()
}

// Setup runs every node constructor once. Any error fails the whole cycler. Run calls it on the
// cycler's thread; tests driving Cycle directly call it themselves.
func (c *Cycler) Setup() error {
	if c.created {
		return nil
	}
	c.created = true

	guard := c.wiring.Parameters.NextRead()
	defer guard.Release()
	snapshot := *guard.Value()

	for _, d := range c.config.Nodes {
		creation := node.NewCreationContext(d, c.config.Name, c.wiring.Hardware, snapshot, c.cache)
		n, err := d.New(creation)
		if err != nil {
			return fmt.Errorf("creating node %s of %s: %w", d.Name, c.config.Name, err)
		}
		c.nodes = append(c.nodes, &instance{
			descriptor: d,
			node:       n,
			fatal:      c.config.Fatal[d.Name],
			timer:      gometrics.GetOrRegisterTimer(c.config.Name+"."+d.Name, c.wiring.Statistics),
			errors: c.wiring.Metrics.GetOrCreateCounter(
				fmt.Sprintf(`dcycle_node_errors_total{cycler=%q,node=%q}`, c.config.Name, d.Name)),
		})
	}
	return nil
}

// Run constructs the nodes and cycles until ctx is done. ready (if not nil) is closed once all
// nodes were created. Run returns nil after cancellation, the construction error, or the first
// fatal CycleError.
func (c *Cycler) Run(ctx context.Context, ready chan<- struct{}) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := c.Setup(); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	Logger.Infof("%s cycler %s started with %d nodes", c.config.Kind, c.config.Name, len(c.nodes))

	var tick <-chan time.Time
	if c.config.Period > 0 {
		ticker := time.NewTicker(c.config.Period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			Logger.Infof("cycler %s stopped", c.config.Name)
			return nil
		default:
		}

		if err := c.Cycle(ctx); err != nil {
			var cycleErr *CycleError
			switch {
			case errors.As(err, &cycleErr) && cycleErr.Fatal:
				Logger.Errorf("%v", err)
				return err
			case errors.Is(err, node.ErrAbsent), errors.Is(err, context.Canceled):
				Logger.Debugf("%v", err)
			default:
				Logger.Warningf("%v", err)
			}
		}

		if tick != nil {
			select {
			case <-ctx.Done():
			case <-tick:
			}
		}
	}
}

// Cycle runs one cycle. Setup must have been called.
func (c *Cycler) Cycle(ctx context.Context) (err error) {
	start := c.now()
	defer func() {
		c.cycleTimer.UpdateSince(start)
		c.cycleSeconds.Update(time.Since(start).Seconds())
		c.cycles.Inc()
		if err != nil {
			c.cycleErrors.Inc()
		}
	}()

	// 1. writer slot
	writer := c.wiring.Buffer.NextWrite()
	db := *writer.Value()
	db.Reset(start)

	if c.config.Kind == Perception && c.wiring.Producer != nil {
		c.wiring.Producer.Announce(start)
	}

	// 2. perception items and historic watermark
	var watermark *time.Time
	if c.config.Kind == RealTime {
		watermark = c.consumePerception(start)
	}

	// 3. configuration snapshot
	paramsGuard := c.wiring.Parameters.NextRead()
	defer paramsGuard.Release()

	// 4. peer databases
	peers := make(map[string]*database.Database, len(c.wiring.Peers))
	for name, peer := range c.wiring.Peers {
		guard := peer.NextRead()
		defer guard.Release()
		peers[name] = *guard.Value()
	}

	env := &node.Environment{
		Context:        ctx,
		Cycler:         c.config.Name,
		CycleStartTime: start,
		Hardware:       c.wiring.Hardware,
		Own:            db,
		Peers:          peers,
		Parameters:     *paramsGuard.Value(),
		ParameterCache: c.cache,
		Persistent:     c.persistent,
		CyclerState:    c.state,
		Historic:       c.historic,
		Perception:     c.perception,
		Requests:       c.wiring.Requests,
	}

	if err := c.checkRequiredPeers(peers); err != nil {
		c.discard(writer)
		if !c.waitingForPeers {
			Logger.Infof("%s waits for its peers: %v", c.config.Name, err)
			c.waitingForPeers = true
		}
		return err
	}
	c.waitingForPeers = false

	// 5. + 6. nodes
	for _, n := range c.nodes {
		if err := c.runNode(n, env); err != nil {
			c.discard(writer)
			return err
		}
	}

	// 7. publication
	if c.config.Kind == RealTime {
		c.historic.Update(start, db.CloneMainOutputs(), watermark)
	}
	if c.config.Kind == Perception && c.wiring.Producer != nil {
		c.wiring.Producer.Finalize(db.CloneMainOutputs())
	}

	// 8. release
	writer.Release()
	c.wiring.Watch.Notify()
	return nil
}

func (c *Cycler) runNode(n *instance, env *node.Environment) (err error) {
	started := time.Now()
	defer func() {
		n.timer.UpdateSince(started)
		if r := recover(); r != nil {
			err = &CycleError{Cycler: c.config.Name, Node: n.descriptor.Name, Fatal: true, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			n.errors.Inc()
		}
	}()

	if err := n.node.Cycle(node.NewCycleContext(n.descriptor, env)); err != nil {
		return &CycleError{Cycler: c.config.Name, Node: n.descriptor.Name, Fatal: n.fatal, Err: err}
	}
	return nil
}

// discard drops the writer slot of a failed cycle. Peers keep reading the last successful one.
func (c *Cycler) discard(writer *buffer.WriteGuard[*database.Database]) {
	if c.config.Kind == Perception && c.wiring.Producer != nil {
		c.wiring.Producer.Abort()
	}
	writer.Discard()
}

func (c *Cycler) checkRequiredPeers(peers map[string]*database.Database) error {
	for _, n := range c.nodes {
		for _, in := range n.descriptor.Inputs {
			if in.Kind != node.InputPeer || !in.Required {
				continue
			}
			peer := peers[in.Cycler]
			if peer != nil && peer.MainOutputs[in.OutputName()] != nil {
				continue
			}
			return &CycleError{
				Cycler: c.config.Name,
				Node:   n.descriptor.Name,
				Err:    fmt.Errorf("%s.main_outputs.%s: %w", in.Cycler, in.OutputName(), node.ErrAbsent),
			}
		}
	}
	return nil
}

// consumePerception moves all finalized perception items up to now into the perception databases
// and returns the historic watermark.
func (c *Cycler) consumePerception(now time.Time) *time.Time {
	c.perception.BeginCycle()

	var watermark *time.Time
	for _, name := range c.consumers {
		consumer := c.wiring.Consumers[name]
		for _, item := range consumer.ConsumeUpTo(now) {
			c.perception.Add(name, item.Timestamp, item.Data)
		}
		if first, ok := consumer.FirstTimestampOfUnconsumedItems(); ok {
			if watermark == nil || first.Before(*watermark) {
				t := first
				watermark = &t
			}
		}
	}
	return watermark
}
