package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/dCycle/lib/path"
	"github.com/ValentinKolb/dCycle/lib/router"
	"github.com/ValentinKolb/dCycle/lib/util"
	"github.com/ValentinKolb/dCycle/rpc/common"
)

var Logger = logger.GetLogger("recorder")

// Entry is one line of a recording.
type Entry struct {
	Timestamp common.Timestamp `json:"timestamp"`
	Path      string           `json:"path"`
	Value     any              `json:"value"`
}

// Recorder writes the values of subscribed paths as JSON lines. Every path is subscribed through
// the router, values of all subscriptions meet in a lock-free queue drained by one writer.
type Recorder struct {
	router *router.Router
	paths  []path.Path
	out    io.Writer

	entries  *vm.Counter
	failures *vm.Counter
}

// New creates a recorder for paths. Metrics are registered in set (a fresh set if nil).
func New(r *router.Router, out io.Writer, paths []string, set *vm.Set) (*Recorder, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths to record")
	}
	if set == nil {
		set = vm.NewSet()
	}

	parsed := make([]path.Path, 0, len(paths))
	for _, s := range paths {
		p, err := path.Parse(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
	}

	return &Recorder{
		router:   r,
		paths:    parsed,
		out:      out,
		entries:  set.GetOrCreateCounter(`dcycle_recorder_entries_total`),
		failures: set.GetOrCreateCounter(`dcycle_recorder_failures_total`),
	}, nil
}

// Run subscribes all paths and records until the context is done. Entries already queued are
// written before Run returns. A path that cannot be subscribed fails Run before anything is
// recorded.
func (rec *Recorder) Run(ctx context.Context) error {
	subs := make([]*router.Subscription, 0, len(rec.paths))
	closeAll := func() {
		for _, sub := range subs {
			sub.Close()
		}
	}
	for _, p := range rec.paths {
		sub, err := rec.router.Subscribe(p)
		if err != nil {
			closeAll()
			return fmt.Errorf("failed to record %s: %w", p, err)
		}
		subs = append(subs, sub)
	}
	defer closeAll()

	queue := util.NewMPSC[Entry]()

	// one producer per subscription
	var producers sync.WaitGroup
	for _, sub := range subs {
		producers.Add(1)
		go func(sub *router.Subscription) {
			defer producers.Done()
			for {
				value, err := sub.Next(ctx)
				if err != nil {
					if ctx.Err() == nil && !errors.Is(err, router.ErrClosed) {
						Logger.Warningf("Stopped recording %s: %v", sub.Path(), err)
					}
					return
				}
				queue.Push(Entry{
					Timestamp: common.NewTimestamp(value.Timestamp),
					Path:      sub.Path().String(),
					Value:     value.Data,
				})
			}
		}(sub)
	}

	go func() {
		producers.Wait()
		queue.Close()
	}()

	Logger.Infof("Recording %d paths", len(subs))
	err := rec.write(queue)
	// unblock producers if the writer failed
	closeAll()
	for range queue.Recv() {
	}
	return err
}

// write drains the queue into the output until the queue is closed
func (rec *Recorder) write(queue *util.MPSC[Entry]) error {
	w := bufio.NewWriter(rec.out)
	enc := json.NewEncoder(w)

	var written uint64
	for entry := range queue.Recv() {
		if err := enc.Encode(entry); err != nil {
			rec.failures.Inc()
			Logger.Errorf("Failed to write entry of %s: %v", entry.Path, err)
			return err
		}
		rec.entries.Inc()
		written++

		// flush once the queue is idle
		if queue.Pushed() == written {
			if err := w.Flush(); err != nil {
				rec.failures.Inc()
				return err
			}
		}
	}
	return w.Flush()
}

// Open creates the record file and returns a recorder writing to it. The file is closed by the
// returned close function.
func Open(r *router.Router, file string, paths []string, set *vm.Set) (*Recorder, func() error, error) {
	f, err := os.Create(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create record file: %w", err)
	}
	rec, err := New(r, f, paths, set)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return rec, f.Close, nil
}

// ReadAll decodes a recording.
func ReadAll(in io.Reader) ([]Entry, error) {
	var entries []Entry
	dec := json.NewDecoder(in)
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return entries, err
		}
		entries = append(entries, e)
	}
}
