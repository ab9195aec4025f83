package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/xchainctl/internal/adminrpc"
	"github.com/loykin/xchainctl/internal/fleet"
	"github.com/loykin/xchainctl/internal/liveness"
	"github.com/loykin/xchainctl/internal/metrics"
	"github.com/loykin/xchainctl/internal/process"
	"github.com/loykin/xchainctl/internal/record"
	"github.com/loykin/xchainctl/internal/registry"
	"github.com/loykin/xchainctl/internal/supervisor"
	"github.com/loykin/xchainctl/pkg/client"
)

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

// metrics registration is process-wide
var (
	testRegistry = prometheus.NewRegistry()
	regOnce      sync.Once
)

type testEnv struct {
	h     http.Handler
	svc   *fleet.Service
	os    *fakeOS
	store *registry.FileStore
	home  string
}

func setupRouter(t *testing.T, base string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	home := t.TempDir()
	f := &fakeOS{next: 100, states: map[int]liveness.State{}}
	st := registry.NewFileStore(filepath.Join(home, registry.FileName), registry.Options{})
	sup := supervisor.New(st, f, f, supervisor.Options{Home: home, StartGrace: 100 * time.Millisecond, StopTimeout: 100 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	svc := fleet.New(sup, adminrpc.New(adminrpc.Options{Timeout: time.Second}), fleet.Options{Home: home})
	regOnce.Do(func() { require.NoError(t, metrics.Register(testRegistry)) })
	return &testEnv{h: NewRouter(svc, base, testRegistry, nil).Handler(), svc: svc, os: f, store: st, home: home}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func witnessReq(name string) client.StartRequest {
	return client.StartRequest{Name: name, Kind: "witness", Exe: "/opt/witnessd", Config: "/cfg/" + name + ".json", IP: "127.0.0.1", RPCPort: 6010}
}

func TestStartAndList(t *testing.T) {
	env := setupRouter(t, "/api")
	rec := doReq(t, env.h, http.MethodPost, "/api/servers", client.StartRequest{
		Name: "locking_chain", Kind: "chain", Exe: "/opt/rippled", Config: "/cfg/lc.cfg",
		WSIP: "127.0.0.1", WSPort: 6006, HTTPIP: "127.0.0.1", HTTPPort: 5005,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = doReq(t, env.h, http.MethodPost, "/api/servers", witnessReq("witness0"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doReq(t, env.h, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []client.ServerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "locking_chain", list[0].Name)
	assert.Equal(t, "chain", list[0].Kind)
	assert.Equal(t, 5005, list[0].HTTPPort)
	assert.Equal(t, "alive", list[0].State)
	assert.Equal(t, 6010, list[1].RPCPort)

	rec = doReq(t, env.h, http.MethodGet, "/api/servers?kind=witness", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = doReq(t, env.h, http.MethodGet, "/api/servers?kind=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartValidation(t *testing.T) {
	env := setupRouter(t, "")
	bad := witnessReq("witness0")
	bad.RPCPort = 0
	rec := doReq(t, env.h, http.MethodPost, "/servers", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = witnessReq("../etc")
	rec = doReq(t, env.h, http.MethodPost, "/servers", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = witnessReq("witness0")
	bad.Log = "relative/x.out"
	rec = doReq(t, env.h, http.MethodPost, "/servers", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, env.h, http.MethodPost, "/servers", witnessReq("witness0"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doReq(t, env.h, http.MethodPost, "/servers", witnessReq("witness0"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownServer(t *testing.T) {
	env := setupRouter(t, "")
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/servers/ghost"},
		{http.MethodGet, "/servers/ghost/output"},
		{http.MethodPost, "/servers/ghost/stop"},
		{http.MethodPost, "/servers/ghost/restart"},
	} {
		rec := doReq(t, env.h, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
		var er client.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
		assert.Equal(t, "not_found", er.Code)
		assert.Contains(t, er.Error, "ghost")
	}
	rec := doReq(t, env.h, http.MethodPost, "/servers/ghost/request", client.RPCRequest{Method: "ping"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopRestartPrune(t *testing.T) {
	env := setupRouter(t, "")
	ctx := context.Background()
	for _, n := range []string{"witness0", "witness1", "witness2"} {
		require.Equal(t, http.StatusCreated, doReq(t, env.h, http.MethodPost, "/servers", witnessReq(n)).Code)
	}
	before, err := env.store.Get(ctx, "witness0")
	require.NoError(t, err)

	rec := doReq(t, env.h, http.MethodPost, "/servers/witness0/restart", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info client.ServerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.NotEqual(t, before.PID, info.PID)

	rec = doReq(t, env.h, http.MethodPost, "/servers/witness1/stop?signal=TERM", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err = env.store.Get(ctx, "witness1")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	rec = doReq(t, env.h, http.MethodPost, "/servers/witness0/stop?signal=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w2, err := env.store.Get(ctx, "witness2")
	require.NoError(t, err)
	require.NoError(t, env.os.Terminate(w2.PID, process.Signal(0)))
	rec = doReq(t, env.h, http.MethodPost, "/servers/prune", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pr client.PruneResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pr))
	assert.Equal(t, []string{"witness2"}, pr.Removed)

	rec = doReq(t, env.h, http.MethodPost, "/servers/prune", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":[]}`, rec.Body.String())
}

func TestOutput(t *testing.T) {
	env := setupRouter(t, "")
	require.Equal(t, http.StatusCreated, doReq(t, env.h, http.MethodPost, "/servers", witnessReq("witness0")).Code)
	require.NoError(t, os.WriteFile(filepath.Join(env.home, "witness0.out"), []byte("a\nb\nc\n"), 0o600))

	rec := doReq(t, env.h, http.MethodGet, "/servers/witness0/output", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a\nb\nc\n", rec.Body.String())

	rec = doReq(t, env.h, http.MethodGet, "/servers/witness0/output?tail=1", nil)
	assert.Equal(t, "c\n", rec.Body.String())

	rec = doReq(t, env.h, http.MethodGet, "/servers/witness0/output?tail=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestRelay(t *testing.T) {
	env := setupRouter(t, "/api")
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["method"] != "ping" {
			_, _ = io.WriteString(w, `{"result":{"status":"error","error":"unknownCmd"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"result":{"role":"admin","status":"success"}}`)
	}))
	defer node.Close()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(node.URL, "http://"))
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)
	req := witnessReq("witness0")
	req.IP, req.RPCPort = host, p
	require.Equal(t, http.StatusCreated, doReq(t, env.h, http.MethodPost, "/api/servers", req).Code)

	rec := doReq(t, env.h, http.MethodPost, "/api/servers/witness0/request", client.RPCRequest{Method: "ping"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"result":{"role":"admin","status":"success"}}`, rec.Body.String())

	rec = doReq(t, env.h, http.MethodPost, "/api/servers/witness0/request", client.RPCRequest{Method: "nope"})
	require.Equal(t, http.StatusOK, rec.Code, "node-level errors pass through")
	assert.Contains(t, rec.Body.String(), "unknownCmd")

	rec = doReq(t, env.h, http.MethodPost, "/api/servers/witness0/request", client.RPCRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, env.h, http.MethodPost, "/api/servers/witness0/request", client.RPCRequest{Method: "ping", Transport: "ws"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "witnesses have no websocket endpoint")

	node.Close()
	rec = doReq(t, env.h, http.MethodPost, "/api/servers/witness0/request", client.RPCRequest{Method: "ping"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupRouter(t, "/api")
	require.Equal(t, http.StatusCreated, doReq(t, env.h, http.MethodPost, "/api/servers", witnessReq("witness0")).Code)
	require.Equal(t, http.StatusOK, doReq(t, env.h, http.MethodGet, "/api/servers", nil).Code)
	rec := doReq(t, env.h, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "xchainctl_fleet_servers")
}

func TestClientAgainstRouter(t *testing.T) {
	env := setupRouter(t, "/api")
	srv := httptest.NewServer(env.h)
	defer srv.Close()
	c, err := client.New(client.Config{BaseURL: srv.URL + "/api", Timeout: 5 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))
	info, err := c.StartServer(ctx, witnessReq("witness0"))
	require.NoError(t, err)
	assert.Equal(t, "witness0", info.Name)

	list, err := c.ListServers(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = c.RestartServer(ctx, "ghost")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "not_found", apiErr.Code)

	out, err := c.Output(ctx, "witness0", 0)
	require.NoError(t, err)
	assert.Empty(t, out)

	stop, err := c.StopServer(ctx, "witness0", "")
	require.NoError(t, err)
	assert.False(t, stop.AlreadyStopped)

	removed, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
