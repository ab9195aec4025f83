package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/xchainctl/internal/adminrpc"
	"github.com/loykin/xchainctl/internal/record"
	"github.com/loykin/xchainctl/internal/registry"
	"github.com/loykin/xchainctl/internal/supervisor"
	"github.com/loykin/xchainctl/pkg/client"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeAbsPath ensures the provided path is absolute and does not contain traversal.
// Empty is allowed.
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	sep := string(filepath.Separator)
	trimmed := strings.TrimRight(p, sep)
	if trimmed == "" {
		trimmed = p // keep root like "/" on Unix
	}
	// Reject if cleaning changes more than just trailing separators
	return clean == p || clean == trimmed
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// errorStatus maps operation errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		return http.StatusConflict, "already_running"
	case errors.Is(err, registry.ErrLocked):
		return http.StatusLocked, "locked"
	case errors.Is(err, adminrpc.ErrUnreachable):
		return http.StatusBadGateway, "unreachable"
	case errors.Is(err, adminrpc.ErrMalformedResponse):
		return http.StatusBadGateway, "malformed_response"
	case errors.Is(err, adminrpc.ErrBadParams), errors.Is(err, adminrpc.ErrNoWebSocket):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, supervisor.ErrStartupTimeout):
		return http.StatusGatewayTimeout, "startup_timeout"
	case errors.Is(err, supervisor.ErrStopTimeout):
		return http.StatusGatewayTimeout, "stop_timeout"
	case errors.Is(err, supervisor.ErrSpawn):
		return http.StatusUnprocessableEntity, "spawn_failed"
	case errors.Is(err, registry.ErrCorrupt):
		return http.StatusInternalServerError, "registry_corrupt"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	}
	return http.StatusInternalServerError, "internal"
}

func toInfo(rec record.ServerRecord, state string) client.ServerInfo {
	info := client.ServerInfo{
		Name:      rec.Name,
		Kind:      rec.Kind.String(),
		PID:       rec.PID,
		Exe:       rec.Exe,
		Config:    rec.Config,
		State:     state,
		StartedAt: rec.StartedAt,
		Log:       rec.LogPath,
	}
	if rec.Chain != nil {
		info.WSIP, info.WSPort = rec.Chain.WSIP, rec.Chain.WSPort
		info.HTTPIP, info.HTTPPort = rec.Chain.HTTPIP, rec.Chain.HTTPPort
	}
	if rec.Witness != nil {
		info.IP, info.RPCPort = rec.Witness.IP, rec.Witness.RPCPort
	}
	return info
}

func fromStartRequest(req client.StartRequest) (record.ServerRecord, error) {
	kind, err := record.ParseKind(req.Kind)
	if err != nil {
		return record.ServerRecord{}, err
	}
	var rec record.ServerRecord
	if kind == record.KindChain {
		rec, err = record.NewChain(req.Name, req.Exe, req.Config, record.ChainEndpoints{
			WSIP: req.WSIP, WSPort: req.WSPort, HTTPIP: req.HTTPIP, HTTPPort: req.HTTPPort,
		})
	} else {
		rec, err = record.NewWitness(req.Name, req.Exe, req.Config, record.WitnessEndpoints{IP: req.IP, RPCPort: req.RPCPort})
	}
	rec.LogPath = req.Log
	return rec, err
}
