package router

import (
	"context"
	"strings"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/path"
)

// Statistics is the published form of one timer.
type Statistics struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MaxMs  float64 `json:"max_ms"`
	Rate1m float64 `json:"rate_1m"`
}

// StatisticsSource publishes the cycle and node timers of all cyclers as
// <cycler>.<node|cycle>.{count,mean_ms,max_ms,rate_1m}. It is read only.
type StatisticsSource struct {
	registry gometrics.Registry
	watch    *buffer.Watch
	interval time.Duration
}

// NewStatisticsSource creates a source over registry that signals a change every interval.
func NewStatisticsSource(registry gometrics.Registry, interval time.Duration) *StatisticsSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatisticsSource{registry: registry, watch: buffer.NewWatch(), interval: interval}
}

// Run signals subscribers periodically until ctx is done.
func (s *StatisticsSource) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.watch.Close()
			return
		case <-ticker.C:
			s.watch.Notify()
		}
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see router.ISource)
// --------------------------------------------------------------------------

func (s *StatisticsSource) Paths() map[string]string {
	out := make(map[string]string)
	for cycler, entries := range s.collect() {
		out[cycler] = "object"
		for entry := range entries {
			prefix := cycler + "." + entry
			out[prefix] = "Statistics"
			for _, field := range []string{"count", "mean_ms", "max_ms", "rate_1m"} {
				out[prefix+"."+field] = "number"
			}
		}
	}
	return out
}

func (s *StatisticsSource) Watch() *buffer.Watch {
	return s.watch
}

func (s *StatisticsSource) Read(suffix path.Path) (Value, error) {
	tree, err := path.ToTree(s.collect())
	if err != nil {
		return Value{}, err
	}
	value, err := path.Traverse(tree, suffix)
	if err != nil {
		return Value{}, err
	}
	return Value{Timestamp: time.Now(), Data: value}, nil
}

func (s *StatisticsSource) collect() map[string]map[string]Statistics {
	out := make(map[string]map[string]Statistics)
	s.registry.Each(func(name string, metric interface{}) {
		timer, ok := metric.(gometrics.Timer)
		if !ok {
			return
		}
		cycler, entry, found := strings.Cut(name, ".")
		if !found {
			return
		}
		snapshot := timer.Snapshot()
		if out[cycler] == nil {
			out[cycler] = make(map[string]Statistics)
		}
		out[cycler][entry] = Statistics{
			Count:  snapshot.Count(),
			MeanMs: snapshot.Mean() / float64(time.Millisecond),
			MaxMs:  float64(snapshot.Max()) / float64(time.Millisecond),
			Rate1m: snapshot.Rate1(),
		}
	})
	return out
}
