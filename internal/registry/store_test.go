package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xchainctl/internal/record"
)

func chain(t *testing.T, name string, pid int) record.ServerRecord {
	t.Helper()
	r, err := record.NewChain(name, "/opt/rippled", "/cfg/"+name+"/rippled.cfg", record.ChainEndpoints{
		WSIP: "127.0.0.1", WSPort: 6006, HTTPIP: "127.0.0.1", HTTPPort: 5005,
	})
	require.NoError(t, err)
	return r.WithRun(pid, 0)
}

func witness(t *testing.T, name string, pid int) record.ServerRecord {
	t.Helper()
	r, err := record.NewWitness(name, "/opt/witnessd", "/cfg/"+name+".json", record.WitnessEndpoints{IP: "127.0.0.1", RPCPort: 6010})
	require.NoError(t, err)
	return r.WithRun(pid, 0)
}

func newStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), FileName), Options{LockTimeout: time.Second})
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := newStore(t)
	reg, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestLoadCorrupt(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o600))
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"chains":[{"name":"c","exe":"e","config":"c"}],"witnesses":[]}`), 0o600))
	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt, "missing chain endpoints must be rejected")

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"chains":[],"witnesses":[
		{"name":"w","exe":"e","config":"c","ip":"127.0.0.1","rpc_port":1},
		{"name":"w","exe":"e","config":"c","ip":"127.0.0.1","rpc_port":2}]}`), 0o600))
	_, err = s.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt, "duplicate names must be rejected")
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	reg := New()
	require.NoError(t, reg.Upsert(chain(t, "locking_chain", 100)))
	require.NoError(t, reg.Upsert(chain(t, "issuing_chain", 101)))
	w := witness(t, "witness0", 102)
	w.StartedAt = 1700000000
	w.LogPath = "/tmp/w0.out"
	require.NoError(t, reg.Upsert(w))
	require.NoError(t, s.Save(ctx, reg))

	first, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, reg.All(), loaded.All())

	require.NoError(t, s.Save(ctx, loaded))
	second, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second), "save(load()) must be a no-op")
}

func TestDocumentShape(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Upsert(ctx, chain(t, "locking_chain", 7)))
	require.NoError(t, s.Upsert(ctx, witness(t, "witness0", 8)))
	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	for _, key := range []string{`"chains"`, `"witnesses"`, `"ws_ip"`, `"ws_port"`, `"http_ip"`, `"http_port"`, `"ip"`, `"rpc_port"`, `"exe"`, `"config"`, `"pid": 7`} {
		assert.Contains(t, string(b), key)
	}
	assert.NotContains(t, string(b), "started_at")
}

func TestGetUpsertRemove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Get(ctx, "witness0")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Upsert(ctx, witness(t, "witness0", 1)))
	require.NoError(t, s.Upsert(ctx, witness(t, "witness1", 2)))
	require.NoError(t, s.Upsert(ctx, chain(t, "locking_chain", 3)))

	got, err := s.Get(ctx, "witness0")
	require.NoError(t, err)
	assert.Equal(t, 1, got.PID)

	require.NoError(t, s.Upsert(ctx, witness(t, "witness0", 9)))
	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, r := range all {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"locking_chain", "witness0", "witness1"}, names, "replacement keeps position")
	assert.Equal(t, 9, all[1].PID)

	ws, err := s.GetAll(ctx, record.KindWitness)
	require.NoError(t, err)
	assert.Len(t, ws, 2)

	require.NoError(t, s.Remove(ctx, "witness0"))
	require.NoError(t, s.Remove(ctx, "witness0"))
	_, err = s.Get(ctx, "witness0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertRejectsInvalid(t *testing.T) {
	s := newStore(t)
	bad := witness(t, "w", 1)
	bad.Witness = nil
	assert.Error(t, s.Upsert(context.Background(), bad))
	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "failed update must not write")
}

func TestRemoveRun(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Upsert(witness(t, "w", 10)))
	assert.False(t, reg.RemoveRun("w", 11))
	assert.True(t, reg.RemoveRun("w", 10))
	assert.False(t, reg.RemoveRun("w", 10))
}

func TestUpsertKindChangeMoves(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Upsert(chain(t, "x", 1)))
	require.NoError(t, reg.Upsert(witness(t, "x", 2)))
	assert.Empty(t, reg.All(record.KindChain))
	assert.Len(t, reg.All(record.KindWitness), 1)
}

func TestLockTimeout(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), FileName), Options{LockTimeout: 100 * time.Millisecond})
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o750))
	holder := flock.New(s.Path() + ".lock")
	ok, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = holder.Unlock() }()

	start := time.Now()
	err = s.Upsert(context.Background(), witness(t, "w", 1))
	assert.ErrorIs(t, err, ErrLocked)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), FileName)
	const n = 20
	recs := make([]record.ServerRecord, n)
	for i := range recs {
		recs[i] = witness(t, fmt.Sprintf("witness%d", i), 1000+i)
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(rec record.ServerRecord) {
			defer wg.Done()
			// separate stores mimic separate CLI invocations
			s := NewFileStore(path, Options{LockTimeout: 10 * time.Second})
			errs <- s.Upsert(ctx, rec)
		}(recs[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	all, err := NewFileStore(path, Options{}).GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, n)
}
