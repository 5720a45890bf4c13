package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/cycler"
	"github.com/ValentinKolb/dCycle/lib/database"
	"github.com/ValentinKolb/dCycle/lib/futurequeue"
	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/node"
	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/path"
	"github.com/ValentinKolb/dCycle/lib/recorder"
	"github.com/ValentinKolb/dCycle/lib/router"
	"github.com/ValentinKolb/dCycle/rpc/server"
)

var Logger = logger.GetLogger("runtime")

// ErrAborted is returned by Wait when the runtime was aborted before every cycler finished its
// current cycle.
var ErrAborted = errors.New("runtime aborted")

// StatisticsPrefix is the mount point of the node and cycle timers.
const StatisticsPrefix = "Runtime.statistics"

type instance struct {
	plan   *Instance
	cycler *cycler.Cycler
	buffer *buffer.Buffer[*database.Database]
	watch  *buffer.Watch
}

// --------------------------------------------------------------------------
// Runtime
// --------------------------------------------------------------------------

// Runtime owns all cyclers of a manifest, their buffers and queues, the parameter store, the
// router and the protocol endpoint.
//
// Lifecycle: New assembles everything, Start runs the cyclers and services, Stop requests the
// shutdown and Wait blocks until it is done. The first Stop lets every cycler finish its current
// cycle, a second Stop aborts the wait.
type Runtime struct {
	config   Config
	plan     *Plan
	hardware hardware.IInterface

	store      *parameters.Store
	router     *router.Router
	metrics    *vm.Set
	statistics gometrics.Registry
	stats      *router.StatisticsSource
	instances  []*instance

	server          *server.RPCServer
	metricsListener net.Listener

	cyclerCtx      context.Context
	cancelCyclers  context.CancelFunc
	serviceCtx     context.Context
	cancelServices context.CancelFunc
	cyclers        sync.WaitGroup
	services       sync.WaitGroup

	started  atomic.Bool
	stops    atomic.Int32
	aborted  chan struct{}
	failed   chan struct{}
	failOnce sync.Once
	err      error

	waitOnce sync.Once
	waitErr  error
}

// New assembles the manifest of the configuration with the nodes of registry. hw is handed to
// every node. All assembly errors (unknown nodes, dependency cycles, missing producers or
// parameters) are reported here.
func New(config Config, registry *node.Registry, hw hardware.IInterface) (*Runtime, error) {
	config.applyDefaults()

	manifest, err := LoadManifest(config.Manifest)
	if err != nil {
		return nil, err
	}
	plan, err := Assemble(manifest, registry)
	if err != nil {
		return nil, err
	}

	// every cycler and the router read the parameters
	store, err := parameters.NewStore(config.ParametersDir, config.Identity, len(plan.Instances)+1)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameters: %w", err)
	}
	if err := plan.CheckParameters(store.Current()); err != nil {
		return nil, err
	}

	r := &Runtime{
		config:     config,
		plan:       plan,
		hardware:   hw,
		store:      store,
		metrics:    vm.NewSet(),
		statistics: gometrics.NewRegistry(),
		aborted:    make(chan struct{}),
		failed:     make(chan struct{}),
	}
	r.router = router.New(r.metrics)
	r.stats = router.NewStatisticsSource(r.statistics, config.StatisticsInterval)

	if err := r.wireCyclers(); err != nil {
		return nil, err
	}
	if err := r.mountParameters(); err != nil {
		return nil, err
	}

	if config.Server.Endpoint != "" {
		t, err := NewServerTransport(config.Server.Transport, r.metrics)
		if err != nil {
			return nil, err
		}
		s, err := NewSerializer(config.Server.Serializer)
		if err != nil {
			return nil, err
		}
		r.server = server.NewRPCServer(config.Server, t, s, server.NewRouterServerAdapter(r.router))
	}
	return r, nil
}

// wireCyclers creates the buffers, queues and cyclers of all instances and mounts their outputs.
func (r *Runtime) wireCyclers() error {
	buffers := make(map[string]*buffer.Buffer[*database.Database], len(r.plan.Instances))
	for _, p := range r.plan.Instances {
		layout := p.Layout
		buffers[p.Name] = buffer.New(p.SlotCount(), func() *database.Database { return database.New(layout) })
	}

	producers := make(map[string]*futurequeue.Producer[cycler.Item], len(r.plan.Perception))
	consumers := make(map[string]*futurequeue.Consumer[cycler.Item], len(r.plan.Perception))
	for _, name := range r.plan.Perception {
		producers[name], consumers[name] = futurequeue.New[cycler.Item]()
	}

	for _, p := range r.plan.Instances {
		inst := &instance{plan: p, buffer: buffers[p.Name], watch: buffer.NewWatch()}
		requests := database.NewRequests()

		peers := make(map[string]*buffer.Buffer[*database.Database], len(p.Peers))
		for _, name := range p.Peers {
			peers[name] = buffers[name]
		}
		wiring := cycler.Wiring{
			Buffer:     inst.buffer,
			Watch:      inst.watch,
			Requests:   requests,
			Peers:      peers,
			Parameters: r.store.Buffer(),
			Hardware:   r.hardware,
			Statistics: r.statistics,
			Metrics:    r.metrics,
		}
		switch p.Kind {
		case cycler.Perception:
			wiring.Producer = producers[p.Name]
		case cycler.RealTime:
			wiring.Consumers = consumers
		}
		inst.cycler = cycler.New(cycler.Config{
			Name:   p.Name,
			Kind:   p.Kind,
			Period: p.Period,
			Nodes:  p.Nodes,
			Fatal:  p.Fatal,
		}, wiring)

		for _, section := range []string{database.SectionMainOutputs, database.SectionAdditionalOutputs} {
			source := router.NewCyclerSource(section, p.Layout, inst.buffer, inst.watch, requests)
			err := r.router.Mount(router.Mount{
				Prefix: path.Path{p.Name, section},
				Kind:   router.KindOutputs,
				Source: source,
			})
			if err != nil {
				return err
			}
		}
		Logger.Debugf("wired %s cycler %s: %d nodes, %d slots, peers %v",
			p.Kind, p.Name, len(p.Nodes), p.SlotCount(), p.Peers)
		r.instances = append(r.instances, inst)
	}
	return nil
}

func (r *Runtime) mountParameters() error {
	source := router.NewParameterSource(r.store)
	if err := r.router.Mount(router.Mount{
		Prefix: path.Path{"parameters"},
		Kind:   router.KindParameters,
		Source: source,
		Sink:   source,
	}); err != nil {
		return err
	}
	return r.router.Mount(router.Mount{
		Prefix: path.MustParse(StatisticsPrefix),
		Kind:   router.KindOutputs,
		Source: r.stats,
	})
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start binds the endpoints, runs every cycler on its own thread and waits until all nodes are
// created. A failing constructor stops all cyclers and is returned. The cyclers are not bound to
// ctx, use Stop or Run for that.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("runtime already started")
	}

	if r.server != nil {
		if err := r.server.Listen(); err != nil {
			return r.startFailed(fmt.Errorf("failed to bind protocol endpoint: %w", err))
		}
	}
	if r.config.MetricsEndpoint != "" {
		listener, err := net.Listen("tcp", r.config.MetricsEndpoint)
		if err != nil {
			r.closeEndpoints()
			return r.startFailed(fmt.Errorf("failed to bind metrics endpoint: %w", err))
		}
		r.metricsListener = listener
	}

	r.cyclerCtx, r.cancelCyclers = context.WithCancel(context.Background())
	r.serviceCtx, r.cancelServices = context.WithCancel(context.Background())

	readies := make([]chan struct{}, len(r.instances))
	for i, inst := range r.instances {
		readies[i] = make(chan struct{})
		r.cyclers.Add(1)
		go func(inst *instance, ready chan struct{}) {
			defer r.cyclers.Done()
			if err := inst.cycler.Run(r.cyclerCtx, ready); err != nil {
				r.fail(err)
			}
		}(inst, readies[i])
	}

	for _, ready := range readies {
		var err error
		select {
		case <-ready:
			continue
		case <-r.failed:
			err = r.err
		case <-ctx.Done():
			err = ctx.Err()
		}
		r.cancelCyclers()
		r.cyclers.Wait()
		r.cancelServices()
		r.closeEndpoints()
		r.closeRouter()
		return r.startFailed(err)
	}

	r.startServices()
	Logger.Infof("runtime started with %d cyclers", len(r.instances))
	return nil
}

func (r *Runtime) startServices() {
	r.goService("statistics", func(ctx context.Context) error {
		r.stats.Run(ctx)
		return nil
	})

	if r.server != nil {
		r.goService("protocol endpoint", r.server.Serve)
	}

	if r.metricsListener != nil {
		httpServer := &http.Server{Handler: metricsHandler(r.metrics), ReadHeaderTimeout: 5 * time.Second}
		r.goService("metrics endpoint", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				_ = httpServer.Close()
			}()
			Logger.Infof("serving metrics on http://%s/metrics", r.metricsListener.Addr())
			if err := httpServer.Serve(r.metricsListener); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if r.config.WatchParameters {
		r.goService("parameter watcher", func(ctx context.Context) error {
			return r.store.WatchFiles(ctx, DefaultReloadDebounce)
		})
	}

	if r.config.Record != "" {
		r.goService("recorder", func(ctx context.Context) error {
			rec, closeFile, err := recorder.Open(r.router, r.config.Record, r.config.RecordPaths, r.metrics)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeFile(); err != nil {
					Logger.Errorf("failed to close recording: %v", err)
				}
			}()
			return rec.Run(ctx)
		})
	}
}

func (r *Runtime) goService(name string, run func(ctx context.Context) error) {
	r.services.Add(1)
	go func() {
		defer r.services.Done()
		if err := run(r.serviceCtx); err != nil {
			Logger.Errorf("%s failed: %v", name, err)
		}
	}()
}

// fail records the first fatal error and stops the cyclers.
func (r *Runtime) fail(err error) {
	r.failOnce.Do(func() {
		r.err = err
		close(r.failed)
	})
	r.cancelCyclers()
}

// Stop requests the shutdown. The first call lets every cycler finish its current cycle, the
// second one makes Wait return without waiting for them.
func (r *Runtime) Stop() {
	switch r.stops.Add(1) {
	case 1:
		Logger.Infof("stopping, cyclers finish their current cycle (stop again to abort)")
		if r.cancelCyclers != nil {
			r.cancelCyclers()
		}
	case 2:
		Logger.Warningf("aborting")
		close(r.aborted)
	}
}

// Wait blocks until all cyclers finished, then closes the router and the services. It returns
// the first fatal cycle error, ErrAborted after a second Stop, or nil.
func (r *Runtime) Wait() error {
	r.waitOnce.Do(func() {
		if !r.started.Load() {
			r.waitErr = fmt.Errorf("runtime not started")
			return
		}

		finished := make(chan struct{})
		go func() {
			r.cyclers.Wait()
			close(finished)
		}()

		select {
		case <-finished:
		case <-r.aborted:
			r.waitErr = ErrAborted
		}

		r.shutdownServices()
		if r.waitErr == nil {
			select {
			case <-r.failed:
				r.waitErr = r.err
			default:
			}
		}
		Logger.Infof("runtime stopped")
	})
	return r.waitErr
}

// Run starts the runtime, stops it when ctx is done and waits for the shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.failed:
		case <-stopped:
		}
	}()
	return r.Wait()
}

func (r *Runtime) shutdownServices() {
	r.cancelServices()
	r.closeRouter()
	r.services.Wait()
}

func (r *Runtime) closeRouter() {
	r.router.Close()
	for _, inst := range r.instances {
		inst.watch.Close()
	}
}

// closeEndpoints releases endpoints that were bound but never served.
func (r *Runtime) closeEndpoints() {
	if r.server != nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = r.server.Serve(ctx)
	}
	if r.metricsListener != nil {
		_ = r.metricsListener.Close()
	}
}

// startFailed makes Wait report the error of a failed Start.
func (r *Runtime) startFailed(err error) error {
	r.waitOnce.Do(func() { r.waitErr = err })
	return err
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Router returns the router with all mounts of the runtime.
func (r *Runtime) Router() *router.Router {
	return r.router
}

// Parameters returns the parameter store.
func (r *Runtime) Parameters() *parameters.Store {
	return r.store
}

// Plan returns the assembled manifest.
func (r *Runtime) Plan() *Plan {
	return r.plan
}

// Metrics returns the metric set of the runtime.
func (r *Runtime) Metrics() *vm.Set {
	return r.metrics
}

// Addr returns the address of the protocol endpoint once Start returned, or "" if it is disabled.
func (r *Runtime) Addr() string {
	if r.server == nil {
		return ""
	}
	return r.server.Addr()
}

// MetricsAddr returns the address of the metrics endpoint once Start returned, or "".
func (r *Runtime) MetricsAddr() string {
	if r.metricsListener == nil {
		return ""
	}
	return r.metricsListener.Addr().String()
}
