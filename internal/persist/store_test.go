package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFileStore_LoadMissingIsEmpty(t *testing.T) {
	store := NewFileStore(t.TempDir())
	snap, err := store.Load(context.Background(), "ses_missing")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	in := Snapshot{
		PrunedToolIDs: []string{"call_a", "call_b"},
		Stats:         Stats{TokensPrunedThisTurn: 120, TotalTokensPruned: 900, TotalToolsPruned: 4},
	}
	require.NoError(t, store.Save(ctx, "ses/1", in))

	// Session keys are sanitized into a flat file name.
	_, err := os.Stat(filepath.Join(dir, "sessions", "ses_1.json"))
	require.NoError(t, err)

	out, err := store.Load(ctx, "ses/1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.PrunedToolIDs, out.PrunedToolIDs)
	assert.Equal(t, []string{}, out.PrunedMessageIDs)
	assert.Equal(t, in.Stats, out.Stats)
	assert.False(t, out.LastUpdated.IsZero())
}

func TestFileStore_Unconfigured(t *testing.T) {
	var store *FileStore
	_, err := store.Load(context.Background(), "x")
	assert.Error(t, err)
	assert.Error(t, NewFileStore("").Save(context.Background(), "x", Snapshot{}))
}

func TestFileStore_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sessions"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions", "bad.json"), []byte("{not json"), 0o644))

	_, err := store.Load(context.Background(), "bad")
	assert.Error(t, err)
}

func TestSQLiteStore_Upsert(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteStore(ctx, t.TempDir(), "")
	require.NoError(t, err)
	defer store.Close()

	missing, err := store.Load(ctx, "ses_1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Save(ctx, "ses_1", Snapshot{PrunedToolIDs: []string{"a"}}))
	require.NoError(t, store.Save(ctx, "ses_1", Snapshot{PrunedToolIDs: []string{"a", "b"}, Stats: Stats{TotalTokensPruned: 10}}))

	got, err := store.Load(ctx, "ses_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "b"}, got.PrunedToolIDs)
	assert.Equal(t, 10, got.Stats.TotalTokensPruned)
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "", t.TempDir(), "")
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, "SQLite", t.TempDir(), "")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "postgres", "", "")
	assert.Error(t, err)

	_, err = Open(ctx, "etcd", "", "")
	assert.Error(t, err)
}

type recordingStore struct {
	mu    sync.Mutex
	saves map[string][]Snapshot
	fail   bool
	gate   chan struct{}
	closed int
}

func (r *recordingStore) Load(context.Context, string) (*Snapshot, error) { return nil, nil }

func (r *recordingStore) Save(_ context.Context, id string, snap Snapshot) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	if r.saves == nil {
		r.saves = make(map[string][]Snapshot)
	}
	r.saves[id] = append(r.saves[id], snap)
	return nil
}

func (r *recordingStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func TestWriter_CoalescesPendingSnapshots(t *testing.T) {
	store := &recordingStore{gate: make(chan struct{})}
	w := NewWriter(store)

	w.Enqueue("s1", Snapshot{Stats: Stats{TotalTokensPruned: 1}})
	// The first write is blocked on the gate; these replace each other.
	w.Enqueue("s1", Snapshot{Stats: Stats{TotalTokensPruned: 2}})
	w.Enqueue("s1", Snapshot{Stats: Stats{TotalTokensPruned: 3}})
	close(store.gate)
	w.Flush()

	store.mu.Lock()
	defer store.mu.Unlock()
	saves := store.saves["s1"]
	require.NotEmpty(t, saves)
	assert.LessOrEqual(t, len(saves), 2)
	assert.Equal(t, 3, saves[len(saves)-1].Stats.TotalTokensPruned)
}

func TestWriter_FailureDoesNotPropagate(t *testing.T) {
	store := &recordingStore{fail: true}
	w := NewWriter(store)
	w.Enqueue("s1", Snapshot{LastUpdated: time.Now()})
	w.Flush()
	require.NoError(t, w.Close())

	// Closed writers drop snapshots instead of spawning goroutines.
	w.Enqueue("s1", Snapshot{})
	w.Flush()
}

func TestWriter_SessionsAreIndependent(t *testing.T) {
	store := &recordingStore{}
	w := NewWriter(store)
	for _, id := range []string{"a", "b", "c"} {
		w.Enqueue(id, Snapshot{PrunedToolIDs: []string{id}})
	}
	require.NoError(t, w.Close())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.saves, 3)
	assert.Equal(t, 1, store.closed, "the writer owns closing its store")
}
