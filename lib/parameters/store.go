package parameters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/ValentinKolb/dCycle/lib/buffer"
	"github.com/ValentinKolb/dCycle/lib/path"
)

var Logger = logger.GetLogger("parameters")

// Snapshot is one immutable version of the merged parameter tree.
type Snapshot struct {
	Version   uint64
	Timestamp time.Time
	Tree      any
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store holds the merged parameter tree and publishes every version through a multi-slot buffer.
// Cyclers and the router read the buffer, writes are serialized by the store.
type Store struct {
	dir string
	id  Identity

	mu      sync.Mutex
	current *Snapshot

	buffer *buffer.Buffer[*Snapshot]
	watch  *buffer.Watch
}

// NewStore loads all layers of the identity and publishes the merged tree.
// readers is the number of concurrent readers of the buffer (cycler instances and the router).
func NewStore(dir string, id Identity, readers int) (*Store, error) {
	tree, err := Load(dir, id)
	if err != nil {
		return nil, err
	}
	return NewStoreFromTree(dir, id, tree, readers), nil
}

// NewStoreFromTree creates a store around an already merged tree.
func NewStoreFromTree(dir string, id Identity, tree any, readers int) *Store {
	initial := &Snapshot{Version: 1, Timestamp: time.Now(), Tree: tree}
	s := &Store{
		dir:     dir,
		id:      id,
		current: initial,
		buffer: buffer.New(buffer.SlotCount(readers, 1), func() *Snapshot {
			return initial
		}),
		watch: buffer.NewWatch(),
	}
	return s
}

// Buffer returns the buffer through which snapshots are published.
func (s *Store) Buffer() *buffer.Buffer[*Snapshot] {
	return s.buffer
}

// Watch returns the change notifier. It is notified after every publication.
func (s *Store) Watch() *buffer.Watch {
	return s.watch
}

// Current returns the latest snapshot.
func (s *Store) Current() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Identity returns the identity the layers were loaded for.
func (s *Store) Identity() Identity {
	return s.id
}

// publish installs a new tree. Must be called with s.mu held.
func (s *Store) publish(tree any) *Snapshot {
	next := &Snapshot{Version: s.current.Version + 1, Timestamp: time.Now(), Tree: tree}
	guard := s.buffer.NextWrite()
	*guard.Value() = next
	guard.Release()
	s.current = next
	s.watch.Notify()
	return next
}

// Write replaces the value at p (relative to the parameter root). The value must have the shape of
// the value it replaces. An empty p replaces the whole tree, which must stay an object.
func (s *Store) Write(p path.Path, value any) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.IsEmpty() {
		if _, ok := value.(map[string]any); !ok {
			return nil, path.NewError(path.RetCTypeMismatch, "the parameter root must be an object")
		}
	}
	tree, err := path.Set(s.current.Tree, p, value)
	if err != nil {
		return nil, err
	}
	snapshot := s.publish(tree)
	Logger.Debugf("parameters.%s written (version %d)", p, snapshot.Version)
	return snapshot, nil
}

// Persist stores the current in-memory value at p in the layer file of the given scope. The
// file is read, the value merged in at p and the result written atomically.
//
// If a layer of higher precedence also defines p, the file is still written but an ErrConflict
// error is returned: the persisted value would not take effect after a reload.
func (s *Store) Persist(p path.Path, scope Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := path.Traverse(s.current.Tree, p)
	if err != nil {
		return err
	}
	file, err := s.id.File(s.dir, scope)
	if err != nil {
		return err
	}

	layer, _, err := ReadLayer(file)
	if err != nil {
		return err
	}
	if layer == nil {
		layer = map[string]any{}
	}
	if p.IsEmpty() {
		layer = value
	} else {
		layer = path.Insert(layer, p, value)
	}
	if err := writeLayer(file, layer); err != nil {
		return err
	}
	Logger.Infof("persisted parameters.%s to %s", p, file)

	return s.checkShadowed(p, scope, value)
}

func (s *Store) checkShadowed(p path.Path, scope Scope, value any) error {
	higher := false
	for _, layer := range s.id.Layers(s.dir) {
		if layer.Scope == scope {
			higher = true
			continue
		}
		if !higher {
			continue
		}
		tree, exists, err := ReadLayer(layer.File)
		if err != nil || !exists {
			continue
		}
		if _, err := path.Traverse(tree, p); err == nil {
			return NewError(RetCConflict, fmt.Sprintf("parameters.%s persisted to %s is shadowed by %s", p, scope, layer.Scope))
		}
	}
	return nil
}

// Reload merges the layer files again and publishes the result. In-memory writes that were not
// persisted are lost.
func (s *Store) Reload() error {
	tree, err := Load(s.dir, s.id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	snapshot := s.publish(tree)
	s.mu.Unlock()
	Logger.Infof("parameters reloaded from %s (version %d)", s.dir, snapshot.Version)
	return nil
}

// --------------------------------------------------------------------------
// File Watching
// --------------------------------------------------------------------------

// WatchFiles reloads the store whenever a layer file changes, until ctx is done.
// Bursts of events are coalesced.
func (s *Store) WatchFiles(ctx context.Context, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dirs := map[string]bool{}
	for _, layer := range s.id.Layers(s.dir) {
		dirs[filepath.Dir(layer.File)] = true
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	relevant := map[string]bool{}
	for _, layer := range s.id.Layers(s.dir) {
		relevant[filepath.Clean(layer.File)] = true
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending = time.After(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			Logger.Warningf("parameter watcher: %v", err)
		case <-pending:
			pending = nil
			if err := s.Reload(); err != nil {
				Logger.Errorf("reloading parameters failed: %v", err)
			}
		}
	}
}
