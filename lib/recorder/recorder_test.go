package recorder

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/dCycle/lib/parameters"
	"github.com/ValentinKolb/dCycle/lib/path"
	"github.com/ValentinKolb/dCycle/lib/router"
)

// syncBuffer is a bytes.Buffer safe for the writer goroutine and the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func newRouter(t *testing.T) (*router.Router, *parameters.Store) {
	tree := map[string]any{"walking": map[string]any{"step_length": 0.05}, "vision": map[string]any{"threshold": 3.0}}
	store := parameters.NewStoreFromTree(t.TempDir(), parameters.Identity{}, tree, 1)
	r := router.New(nil)
	source := router.NewParameterSource(store)
	require.NoError(t, r.Mount(router.Mount{Prefix: path.MustParse("parameters"), Kind: router.KindParameters, Source: source, Sink: source}))
	t.Cleanup(r.Close)
	return r, store
}

func TestRecordsSubscribedPaths(t *testing.T) {
	r, _ := newRouter(t)
	out := &syncBuffer{}
	rec, err := New(r, out, []string{"parameters.walking.step_length", "parameters.vision"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	// initial values of both paths
	require.Eventually(t, func() bool {
		entries, err := ReadAll(bytes.NewReader(out.Bytes()))
		return err == nil && len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Write(path.MustParse("parameters.walking.step_length"), time.Now(), 0.06))
	require.Eventually(t, func() bool {
		entries, _ := ReadAll(bytes.NewReader(out.Bytes()))
		return len(entries) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	entries, err := ReadAll(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	byPath := map[string][]any{}
	for _, e := range entries {
		assert.False(t, e.Timestamp.IsZero())
		byPath[e.Path] = append(byPath[e.Path], e.Value)
	}
	assert.Equal(t, []any{0.05, 0.06}, byPath["parameters.walking.step_length"])
	assert.Equal(t, []any{map[string]any{"threshold": 3.0}}, byPath["parameters.vision"])
}

func TestUnknownPathFailsRun(t *testing.T) {
	r, _ := newRouter(t)
	rec, err := New(r, &bytes.Buffer{}, []string{"parameters.vision", "Control.main_outputs.ball"}, nil)
	require.NoError(t, err)

	err = rec.Run(context.Background())
	assert.ErrorIs(t, err, router.ErrNoSuchPath)
	assert.Equal(t, 0, r.SubscriptionCount())
}

func TestNewValidatesPaths(t *testing.T) {
	r, _ := newRouter(t)
	_, err := New(r, &bytes.Buffer{}, nil, nil)
	assert.Error(t, err)
	_, err = New(r, &bytes.Buffer{}, []string{"parameters..vision"}, nil)
	assert.ErrorIs(t, err, path.ErrInvalidPath)
}

func TestOpenCreatesFile(t *testing.T) {
	r, _ := newRouter(t)
	file := t.TempDir() + "/record.jsonl"
	rec, closeFile, err := Open(r, file, []string{"parameters.vision.threshold"}, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NoError(t, closeFile())

	_, _, err = Open(r, t.TempDir()+"/missing/record.jsonl", []string{"parameters"}, nil)
	assert.Error(t, err)
}
