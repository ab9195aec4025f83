package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/loykin/xchainctl/internal/adminrpc"
	"github.com/loykin/xchainctl/internal/record"
	"github.com/loykin/xchainctl/internal/registry"
	"github.com/loykin/xchainctl/internal/supervisor"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeAbsPath(t *testing.T) {
	// empty is allowed
	if !isSafeAbsPath("") {
		t.Fatalf("empty should be allowed")
	}
	abs := filepath.Join(outputRoot, "main_chain.out")
	if !isSafeAbsPath(abs) {
		t.Fatalf("abs clean path should be allowed: %s", abs)
	}
	// not absolute
	if isSafeAbsPath("tmp/x") {
		t.Fatalf("relative path should be rejected")
	}
	// with traversal (construct without cleaning)
	sep := string(filepath.Separator)
	bad := sep + "tmp" + sep + ".." + sep + "etc"
	if isSafeAbsPath(bad) {
		t.Fatalf("path with traversal should be rejected: %s", bad)
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{record.WrapOp("stop", "x", fmt.Errorf("%w: x", registry.ErrNotFound)), http.StatusNotFound},
		{registry.ErrLocked, http.StatusLocked},
		{supervisor.ErrAlreadyRunning, http.StatusConflict},
		{&supervisor.RestartError{Phase: supervisor.PhaseStop, Err: supervisor.ErrStopTimeout}, http.StatusGatewayTimeout},
		{supervisor.ErrStartupTimeout, http.StatusGatewayTimeout},
		{record.WrapOp("request", "x", adminrpc.ErrUnreachable), http.StatusBadGateway},
		{adminrpc.ErrMalformedResponse, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got, _ := errorStatus(c.err); got != c.want {
			t.Fatalf("errorStatus(%v)=%d want %d", c.err, got, c.want)
		}
	}
}

func FuzzSanitizeBase(f *testing.F) {
	for _, s := range []string{"", "/", "api", "/api/", " //x// ", "a b"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, in string) {
		got := sanitizeBase(in)
		if got == "" {
			return
		}
		if !strings.HasPrefix(got, "/") {
			t.Fatalf("sanitizeBase(%q)=%q lacks leading slash", in, got)
		}
		if strings.HasSuffix(got, "/") {
			t.Fatalf("sanitizeBase(%q)=%q has trailing slash", in, got)
		}
	})
}
