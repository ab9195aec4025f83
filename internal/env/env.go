package env

import (
	"os"
	"sort"
	"strings"
)

// Vars maps variable names to values.
type Vars map[string]string

// Env composes the environment handed to spawned nodes.
type Env struct {
	vars  Vars // configured overrides
	base  Vars // snapshot of the tool's own environment
	useOS bool
}

// New returns an Env that inherits the OS environment when useOS is set.
func New(useOS bool) *Env {
	e := &Env{vars: make(Vars), useOS: useOS}
	if useOS {
		e.base = parse(os.Environ())
	}
	return e
}

// FromList builds an Env from configured "K=V" pairs. Malformed entries are skipped.
func FromList(pairs []string, useOS bool) *Env {
	e := New(useOS)
	for k, v := range parse(pairs) {
		e.vars[k] = v
	}
	return e
}

// Set overrides one variable.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = v
}

// Merge applies, in order: the OS base, configured overrides, then extra "K=V" pairs.
// Values are expanded once against the composed set; unknown references expand to "".
// The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	m := make(Vars, len(e.base)+len(e.vars)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for k, v := range parse(extra) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+os.Expand(m[k], func(ref string) string { return m[ref] }))
	}
	return out
}

func parse(pairs []string) Vars {
	m := make(Vars, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
