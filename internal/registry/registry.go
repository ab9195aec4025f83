package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/loykin/xchainctl/internal/record"
)

// Registry is the in-memory form of the registry document.
// Each kind keeps its own insertion-ordered list; names are unique across both.
type Registry struct {
	chains    []record.ServerRecord
	witnesses []record.ServerRecord
}

// New returns an empty registry.
func New() *Registry { return &Registry{} }

func (r *Registry) list(k record.Kind) *[]record.ServerRecord {
	if k == record.KindWitness {
		return &r.witnesses
	}
	return &r.chains
}

func (r *Registry) find(name string) (record.Kind, int) {
	for i := range r.chains {
		if r.chains[i].Name == name {
			return record.KindChain, i
		}
	}
	for i := range r.witnesses {
		if r.witnesses[i].Name == name {
			return record.KindWitness, i
		}
	}
	return 0, -1
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (record.ServerRecord, bool) {
	k, i := r.find(name)
	if i < 0 {
		return record.ServerRecord{}, false
	}
	return (*r.list(k))[i].Clone(), true
}

// All returns copies of the records, chains before witnesses, optionally filtered by kind.
func (r *Registry) All(kinds ...record.Kind) []record.ServerRecord {
	want := func(k record.Kind) bool { return len(kinds) == 0 || slices.Contains(kinds, k) }
	out := make([]record.ServerRecord, 0, len(r.chains)+len(r.witnesses))
	if want(record.KindChain) {
		for _, rec := range r.chains {
			out = append(out, rec.Clone())
		}
	}
	if want(record.KindWitness) {
		for _, rec := range r.witnesses {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Names lists every registered name in listing order.
func (r *Registry) Names() []string {
	out := make([]string, 0, r.Len())
	for _, rec := range r.chains {
		out = append(out, rec.Name)
	}
	for _, rec := range r.witnesses {
		out = append(out, rec.Name)
	}
	return out
}

func (r *Registry) Len() int { return len(r.chains) + len(r.witnesses) }

// Upsert inserts rec or replaces the record with the same name in place.
// A record changing kind moves to the end of its new list.
func (r *Registry) Upsert(rec record.ServerRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec = rec.Clone()
	k, i := r.find(rec.Name)
	if i >= 0 && k == rec.Kind {
		(*r.list(k))[i] = rec
		return nil
	}
	if i >= 0 {
		l := r.list(k)
		*l = slices.Delete(*l, i, i+1)
	}
	l := r.list(rec.Kind)
	*l = append(*l, rec)
	return nil
}

// Remove deletes the named record and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	k, i := r.find(name)
	if i < 0 {
		return false
	}
	l := r.list(k)
	*l = slices.Delete(*l, i, i+1)
	return true
}

// RemoveRun deletes the named record only if it still carries pid.
// It guards against pruning a record that a concurrent restart already replaced.
func (r *Registry) RemoveRun(name string, pid int) bool {
	rec, ok := r.Get(name)
	if !ok || rec.PID != pid {
		return false
	}
	return r.Remove(name)
}

type document struct {
	Chains    []chainEntry   `json:"chains"`
	Witnesses []witnessEntry `json:"witnesses"`
}

type chainEntry struct {
	Name      string `json:"name"`
	PID       int    `json:"pid"`
	Exe       string `json:"exe"`
	Config    string `json:"config"`
	WSIP      string `json:"ws_ip"`
	WSPort    int    `json:"ws_port"`
	HTTPIP    string `json:"http_ip"`
	HTTPPort  int    `json:"http_port"`
	StartedAt int64  `json:"started_at,omitempty"`
	Log       string `json:"log,omitempty"`
}

type witnessEntry struct {
	Name      string `json:"name"`
	PID       int    `json:"pid"`
	Exe       string `json:"exe"`
	Config    string `json:"config"`
	IP        string `json:"ip"`
	RPCPort   int    `json:"rpc_port"`
	StartedAt int64  `json:"started_at,omitempty"`
	Log       string `json:"log,omitempty"`
}

func (r *Registry) MarshalJSON() ([]byte, error) {
	doc := document{
		Chains:    make([]chainEntry, 0, len(r.chains)),
		Witnesses: make([]witnessEntry, 0, len(r.witnesses)),
	}
	for _, c := range r.chains {
		doc.Chains = append(doc.Chains, chainEntry{
			Name: c.Name, PID: c.PID, Exe: c.Exe, Config: c.Config,
			WSIP: c.Chain.WSIP, WSPort: c.Chain.WSPort, HTTPIP: c.Chain.HTTPIP, HTTPPort: c.Chain.HTTPPort,
			StartedAt: c.StartedAt, Log: c.LogPath,
		})
	}
	for _, w := range r.witnesses {
		doc.Witnesses = append(doc.Witnesses, witnessEntry{
			Name: w.Name, PID: w.PID, Exe: w.Exe, Config: w.Config,
			IP: w.Witness.IP, RPCPort: w.Witness.RPCPort,
			StartedAt: w.StartedAt, Log: w.LogPath,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (r *Registry) UnmarshalJSON(b []byte) error {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	out := New()
	seen := make(map[string]struct{}, len(doc.Chains)+len(doc.Witnesses))
	add := func(rec record.ServerRecord) error {
		if err := rec.Validate(); err != nil {
			return err
		}
		if _, dup := seen[rec.Name]; dup {
			return fmt.Errorf("duplicate server name %q", rec.Name)
		}
		seen[rec.Name] = struct{}{}
		l := out.list(rec.Kind)
		*l = append(*l, rec)
		return nil
	}
	for _, c := range doc.Chains {
		rec := record.ServerRecord{
			Name: c.Name, Kind: record.KindChain, PID: c.PID, Exe: c.Exe, Config: c.Config,
			LogPath: c.Log, StartedAt: c.StartedAt,
			Chain: &record.ChainEndpoints{WSIP: c.WSIP, WSPort: c.WSPort, HTTPIP: c.HTTPIP, HTTPPort: c.HTTPPort},
		}
		if err := add(rec); err != nil {
			return err
		}
	}
	for _, w := range doc.Witnesses {
		rec := record.ServerRecord{
			Name: w.Name, Kind: record.KindWitness, PID: w.PID, Exe: w.Exe, Config: w.Config,
			LogPath: w.Log, StartedAt: w.StartedAt,
			Witness: &record.WitnessEndpoints{IP: w.IP, RPCPort: w.RPCPort},
		}
		if err := add(rec); err != nil {
			return err
		}
	}
	*r = *out
	return nil
}
