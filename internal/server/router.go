package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/xchainctl/internal/config"
	"github.com/loykin/xchainctl/internal/fleet"
	"github.com/loykin/xchainctl/internal/metrics"
	"github.com/loykin/xchainctl/internal/process"
	"github.com/loykin/xchainctl/internal/record"
	"github.com/loykin/xchainctl/internal/supervisor"
	tlsutil "github.com/loykin/xchainctl/internal/tls"
	"github.com/loykin/xchainctl/pkg/client"
)

// Router provides embeddable HTTP handlers for the fleet.
// Endpoints:
//
//	GET  {basePath}/servers                  query: kind=chain|witness (optional)
//	POST {basePath}/servers                  body: StartRequest JSON
//	GET  {basePath}/servers/:name
//	GET  {basePath}/servers/:name/output     query: tail=N (optional), text/plain
//	POST {basePath}/servers/:name/stop       query: signal=INT|TERM|KILL (optional)
//	POST {basePath}/servers/:name/restart
//	POST {basePath}/servers/:name/request    body: RPCRequest JSON, node response verbatim
//	POST {basePath}/servers/prune
//	GET  {basePath}/metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	svc      *fleet.Service
	basePath string
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// A nil gatherer serves the default prometheus registry.
func NewRouter(svc *fleet.Service, basePath string, gatherer prometheus.Gatherer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{svc: svc, basePath: sanitizeBase(basePath), gatherer: gatherer, logger: logger}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.logRequests())
	group := g.Group(r.basePath)
	group.GET("/servers", r.handleList)
	group.POST("/servers", r.handleStart)
	group.POST("/servers/prune", r.handlePrune)
	group.GET("/servers/:name", r.handleGet)
	group.GET("/servers/:name/output", r.handleOutput)
	group.POST("/servers/:name/stop", r.handleStop)
	group.POST("/servers/:name/restart", r.handleRestart)
	group.POST("/servers/:name/request", r.handleRequest)
	group.GET("/metrics", gin.WrapH(metrics.Handler(r.gatherer)))
	return g
}

// NewServer builds an HTTP server for cfg. TLS is configured when cfg.TLS is enabled;
// the caller then serves with ListenAndServeTLS("", "").
func NewServer(cfg config.ServerConfig, svc *fleet.Service, gatherer prometheus.Gatherer, logger *slog.Logger) (*http.Server, error) {
	r := NewRouter(svc, cfg.BasePath, gatherer, logger)
	tlsCfg, err := tlsutil.SetupTLS(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// stop and restart block up to the stop timeout plus the start grace
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}, nil
}

func (r *Router) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("api request", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

// --- Handlers ---

func (r *Router) handleList(c *gin.Context) {
	var kinds []record.Kind
	if k := c.Query("kind"); k != "" {
		kind, err := record.ParseKind(k)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: err.Error(), Code: "bad_request"})
			return
		}
		kinds = append(kinds, kind)
	}
	entries, err := r.svc.ListServers(c.Request.Context(), kinds...)
	if err != nil {
		r.writeError(c, err)
		return
	}
	out := make([]client.ServerInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, toInfo(e.Record, e.State.String()))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleGet(c *gin.Context) {
	rec, err := r.svc.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toInfo(rec, ""))
}

func (r *Router) handleStart(c *gin.Context) {
	var req client.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: "invalid JSON: " + err.Error(), Code: "bad_request"})
		return
	}
	if !isSafeAbsPath(req.Log) {
		writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: "invalid log: must be absolute path without traversal", Code: "bad_request"})
		return
	}
	spec, err := fromStartRequest(req)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}
	rec, err := r.svc.Start(c.Request.Context(), spec)
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toInfo(rec, "alive"))
}

func (r *Router) handleOutput(c *gin.Context) {
	tail := 0
	if s := c.Query("tail"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: "tail must be a non-negative number", Code: "bad_request"})
			return
		}
		tail = n
	}
	out, err := r.svc.CaptureOutput(c.Request.Context(), c.Param("name"), tail)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(out))
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Param("name")
	sig, err := process.ParseSignal(c.Query("signal"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: err.Error(), Code: "bad_request"})
		return
	}
	err = r.svc.Stop(c.Request.Context(), name, sig)
	if err != nil && !errors.Is(err, supervisor.ErrAlreadyStopped) {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, client.StopResponse{Name: name, AlreadyStopped: err != nil})
}

func (r *Router) handleRestart(c *gin.Context) {
	rec, err := r.svc.Restart(c.Request.Context(), c.Param("name"))
	if err != nil {
		r.writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toInfo(rec, "alive"))
}

func (r *Router) handleRequest(c *gin.Context) {
	var req client.RPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: "invalid JSON: " + err.Error(), Code: "bad_request"})
		return
	}
	if req.Method == "" {
		writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: "method required", Code: "bad_request"})
		return
	}
	var params any
	if len(req.Params) > 0 {
		params = json.RawMessage(req.Params)
	}
	call := r.svc.Request
	switch req.Transport {
	case "", "http":
	case "ws":
		call = r.svc.RequestWS
	default:
		writeJSON(c, http.StatusBadRequest, client.ErrorResponse{Error: "transport must be http or ws", Code: "bad_request"})
		return
	}
	resp, err := call(c.Request.Context(), c.Param("name"), req.Method, params)
	if err != nil {
		r.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp.Raw)
}

func (r *Router) handlePrune(c *gin.Context) {
	removed, err := r.svc.Prune(c.Request.Context())
	if err != nil {
		r.writeError(c, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(c, http.StatusOK, client.PruneResponse{Removed: removed})
}

func (r *Router) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	resp := client.ErrorResponse{Error: err.Error(), Code: code}
	var re *supervisor.RestartError
	if errors.As(err, &re) {
		resp.Phase = re.Phase
	}
	if status >= http.StatusInternalServerError {
		r.logger.Warn("api operation failed", "path", c.FullPath(), "error", err)
	}
	writeJSON(c, status, resp)
}
