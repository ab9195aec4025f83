package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func lookup(list []string, key string) (string, bool) {
	for _, kv := range list {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestMergeOrder(t *testing.T) {
	t.Setenv("XCHAIN_ENV_TEST", "os")
	e := FromList([]string{"XCHAIN_ENV_TEST=cfg", "NODE_HOME=/srv/node", "bad-entry", "=novalue"}, true)
	out := e.Merge([]string{"XCHAIN_ENV_TEST=extra", "LOG=${NODE_HOME}/debug.log"})

	v, ok := lookup(out, "XCHAIN_ENV_TEST")
	assert.True(t, ok)
	assert.Equal(t, "extra", v)

	v, _ = lookup(out, "LOG")
	assert.Equal(t, "/srv/node/debug.log", v)

	_, ok = lookup(out, "bad-entry")
	assert.False(t, ok)
	for _, kv := range out {
		assert.False(t, strings.HasPrefix(kv, "="), "empty key in %q", kv)
	}
}

func TestMergeWithoutOS(t *testing.T) {
	t.Setenv("XCHAIN_ENV_TEST", "os")
	e := New(false)
	e.Set("A", "1")
	e.Set("", "ignored")
	out := e.Merge([]string{"B=${A}-${MISSING}"})
	assert.Equal(t, []string{"A=1", "B=1-"}, out)
}

// FuzzMerge checks Merge never yields malformed pairs.
func FuzzMerge(f *testing.F) {
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("FOO=bar", "FOO=${FOO}")
	f.Add("X=$Y", "Y=${X}")

	f.Fuzz(func(t *testing.T, cfg, extra string) {
		e := FromList(strings.Split(cfg, "\n"), false)
		out := e.Merge(strings.Split(extra, "\n"))
		for _, kv := range out {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
