package fleet

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xchainctl/internal/adminrpc"
	"github.com/loykin/xchainctl/internal/liveness"
	"github.com/loykin/xchainctl/internal/process"
	"github.com/loykin/xchainctl/internal/record"
	"github.com/loykin/xchainctl/internal/registry"
	"github.com/loykin/xchainctl/internal/supervisor"
)

// fakeOS is a process table where every spawn is Alive and every signal kills.
type fakeOS struct {
	mu     sync.Mutex
	next   int
	states map[int]liveness.State
}

func (f *fakeOS) Spawn(process.Spec) (process.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.states[f.next] = liveness.Alive
	return process.Handle{PID: f.next}, nil
}

func (f *fakeOS) Terminate(pid int, _ process.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states[pid] != liveness.Alive {
		return process.ErrNoProcess
	}
	f.states[pid] = liveness.Dead
	return nil
}

func (f *fakeOS) Probe(rec record.ServerRecord) liveness.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[rec.PID]
}

func (f *fakeOS) set(pid int, st liveness.State) {
	f.mu.Lock()
	f.states[pid] = st
	f.mu.Unlock()
}

type harness struct {
	svc   *Service
	os    *fakeOS
	store *registry.FileStore
	home  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	home := t.TempDir()
	f := &fakeOS{next: 500, states: map[int]liveness.State{}}
	st := registry.NewFileStore(filepath.Join(home, registry.FileName), registry.Options{})
	sup := supervisor.New(st, f, f, supervisor.Options{
		Home: home, StartGrace: 200 * time.Millisecond, StopTimeout: 200 * time.Millisecond, PollInterval: 5 * time.Millisecond,
	})
	return &harness{svc: New(sup, adminrpc.New(adminrpc.Options{Timeout: time.Second}), Options{Home: home}), os: f, store: st, home: home}
}

func chain(t *testing.T, name string, httpHost string, httpPort int) record.ServerRecord {
	t.Helper()
	r, err := record.NewChain(name, "/opt/rippled", "/cfg/"+name+"/rippled.cfg", record.ChainEndpoints{
		WSIP: "127.0.0.1", WSPort: 6006, HTTPIP: httpHost, HTTPPort: httpPort,
	})
	require.NoError(t, err)
	return r
}

func witness(t *testing.T, name string) record.ServerRecord {
	t.Helper()
	r, err := record.NewWitness(name, "/opt/witnessd", "/cfg/"+name+".json", record.WitnessEndpoints{IP: "127.0.0.1", RPCPort: 6010})
	require.NoError(t, err)
	return r
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Record.Name)
	}
	return out
}

func TestListServersPrunesDead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Start(ctx, chain(t, "locking_chain", "127.0.0.1", 5005))
	require.NoError(t, err)
	pids := map[string]int{}
	for i := 0; i < 5; i++ {
		rec, err := h.svc.Start(ctx, witness(t, fmt.Sprintf("witness%d", i)))
		require.NoError(t, err)
		pids[rec.Name] = rec.PID
	}
	h.os.set(pids["witness2"], liveness.Dead)

	entries, err := h.svc.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"locking_chain", "witness0", "witness1", "witness3", "witness4"}, names(entries))
	for _, e := range entries {
		assert.Equal(t, liveness.Alive, e.State)
	}

	b, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(b), "witness2")

	ws, err := h.svc.ListServers(ctx, record.KindWitness)
	require.NoError(t, err)
	assert.Len(t, ws, 4)
}

func TestCaptureOutput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.Start(ctx, witness(t, "witness0"))
	require.NoError(t, err)

	out, err := h.svc.CaptureOutput(ctx, "witness0", 0)
	require.NoError(t, err)
	assert.Empty(t, out, "missing log reads as empty")

	content := "line1\nline2\nline3\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.home, "witness0.out"), []byte(content), 0o600))
	out, err = h.svc.CaptureOutput(ctx, "witness0", 0)
	require.NoError(t, err)
	assert.Equal(t, content, out)

	out, err = h.svc.CaptureOutput(ctx, "witness0", 2)
	require.NoError(t, err)
	assert.Equal(t, "line2\nline3\n", out)

	_, err = h.svc.CaptureOutput(ctx, "nope", 0)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestReadTail(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.out")
	var sb strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(p, []byte(sb.String()), 0o600))

	got, err := ReadTail(p, 3)
	require.NoError(t, err)
	assert.Equal(t, "line 4997\nline 4998\nline 4999\n", got)

	got, err = ReadTail(p, 10000)
	require.NoError(t, err)
	assert.Equal(t, sb.String(), got)

	require.NoError(t, os.WriteFile(p, []byte("a\nb"), 0o600))
	got, err = ReadTail(p, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestRequestPing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, `{"result":{"role":"admin","status":"success"}}`)
	}))
	defer srv.Close()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)
	_, err = h.svc.Start(ctx, chain(t, "locking_chain", host, p))
	require.NoError(t, err)

	resp, err := h.svc.Request(ctx, "locking_chain", "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":{"role":"admin","status":"success"}}`, string(resp.Raw))

	srv.Close()
	_, err = h.svc.Request(ctx, "locking_chain", "ping", nil)
	assert.ErrorIs(t, err, adminrpc.ErrUnreachable)

	_, err = h.svc.Request(ctx, "ghost", "ping", nil)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStopAllAndRestartAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	before := map[string]int{}
	for i := 0; i < 3; i++ {
		rec, err := h.svc.Start(ctx, witness(t, fmt.Sprintf("witness%d", i)))
		require.NoError(t, err)
		before[rec.Name] = rec.PID
	}
	h.os.set(before["witness1"], liveness.Dead)

	restarted, err := h.svc.RestartAll(ctx)
	require.NoError(t, err)
	require.Len(t, restarted, 3)
	for _, r := range restarted {
		assert.NotEqual(t, before[r.Name], r.PID)
	}

	stopped, err := h.svc.StopAll(ctx, syscall.SIGINT)
	require.NoError(t, err)
	assert.Equal(t, []string{"witness0", "witness1", "witness2"}, stopped)
	all, err := h.store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestKilledWitnessDisappearsFromListing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires unix process semantics")
	}
	ctx := context.Background()
	home := t.TempDir()
	exe := filepath.Join(home, "node.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	st := registry.NewFileStore(filepath.Join(home, registry.FileName), registry.Options{})
	sup := supervisor.New(st, liveness.OSProber{}, &process.Spawner{}, supervisor.Options{Home: home, StartGrace: 2 * time.Second})
	svc := New(sup, nil, Options{Home: home})

	var pids []int
	t.Cleanup(func() {
		for _, pid := range pids {
			_ = process.Terminate(pid, syscall.SIGKILL)
		}
	})
	lc, err := record.NewChain("locking_chain", exe, "/dev/null", record.ChainEndpoints{WSIP: "127.0.0.1", WSPort: 6006, HTTPIP: "127.0.0.1", HTTPPort: 5005})
	require.NoError(t, err)
	rec, err := svc.Start(ctx, lc)
	require.NoError(t, err)
	pids = append(pids, rec.PID)
	victim := 0
	for i := 0; i < 5; i++ {
		w, err := record.NewWitness(fmt.Sprintf("witness%d", i), exe, "/dev/null", record.WitnessEndpoints{IP: "127.0.0.1", RPCPort: 6010 + i})
		require.NoError(t, err)
		rec, err := svc.Start(ctx, w)
		require.NoError(t, err)
		pids = append(pids, rec.PID)
		if i == 2 {
			victim = rec.PID
		}
	}

	// the spawner does not reap, so the victim lingers as a zombie of this test process
	require.NoError(t, process.Terminate(victim, syscall.SIGINT))
	require.Eventually(t, func() bool {
		return liveness.OSProber{}.Probe(record.ServerRecord{PID: victim}).Terminated()
	}, 2*time.Second, 20*time.Millisecond)

	entries, err := svc.ListServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"locking_chain", "witness0", "witness1", "witness3", "witness4"}, names(entries))
	_, err = st.Get(ctx, "witness2")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}
