package record

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind discriminates the two node flavours sharing one registry namespace.
type Kind int

const (
	KindChain Kind = iota + 1
	KindWitness
)

func (k Kind) String() string {
	switch k {
	case KindChain:
		return "chain"
	case KindWitness:
		return "witness"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names used on the command line and in the API.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chain", "chains", "rippled":
		return KindChain, nil
	case "witness", "witnesses":
		return KindWitness, nil
	default:
		return 0, fmt.Errorf("unknown server kind %q", s)
	}
}

// ChainEndpoints are the admin endpoints a chain node exposes.
type ChainEndpoints struct {
	WSIP     string
	WSPort   int
	HTTPIP   string
	HTTPPort int
}

// WitnessEndpoints is the single RPC endpoint of a witness node.
type WitnessEndpoints struct {
	IP      string
	RPCPort int
}

// ServerRecord describes one supervised node process.
// Exactly one of Chain/Witness is set and it matches Kind.
type ServerRecord struct {
	Name    string
	Kind    Kind
	PID     int
	Exe     string
	Config  string
	LogPath string
	// StartedAt is the OS-reported start time (unix seconds) of PID; 0 when unknown.
	StartedAt int64

	Chain   *ChainEndpoints
	Witness *WitnessEndpoints
}

// NewChain builds a validated chain node record without a pid.
func NewChain(name, exe, config string, ep ChainEndpoints) (ServerRecord, error) {
	r := ServerRecord{Name: name, Kind: KindChain, Exe: exe, Config: config, Chain: &ep}
	return r, r.Validate()
}

// NewWitness builds a validated witness node record without a pid.
func NewWitness(name, exe, config string, ep WitnessEndpoints) (ServerRecord, error) {
	r := ServerRecord{Name: name, Kind: KindWitness, Exe: exe, Config: config, Witness: &ep}
	return r, r.Validate()
}

// Validate checks the kind-specific required fields.
func (r ServerRecord) Validate() error {
	if !IsSafeName(r.Name) {
		return fmt.Errorf("invalid server name %q", r.Name)
	}
	if r.Exe == "" {
		return fmt.Errorf("server %s: exe is required", r.Name)
	}
	if r.Config == "" {
		return fmt.Errorf("server %s: config is required", r.Name)
	}
	if r.PID < 0 {
		return fmt.Errorf("server %s: negative pid %d", r.Name, r.PID)
	}
	switch r.Kind {
	case KindChain:
		if r.Chain == nil {
			return fmt.Errorf("server %s: chain endpoints are required", r.Name)
		}
		if r.Witness != nil {
			return fmt.Errorf("server %s: chain node cannot carry witness endpoints", r.Name)
		}
		if err := checkEndpoint(r.Chain.WSIP, r.Chain.WSPort); err != nil {
			return fmt.Errorf("server %s: ws endpoint: %w", r.Name, err)
		}
		if err := checkEndpoint(r.Chain.HTTPIP, r.Chain.HTTPPort); err != nil {
			return fmt.Errorf("server %s: http endpoint: %w", r.Name, err)
		}
	case KindWitness:
		if r.Witness == nil {
			return fmt.Errorf("server %s: witness endpoints are required", r.Name)
		}
		if r.Chain != nil {
			return fmt.Errorf("server %s: witness node cannot carry chain endpoints", r.Name)
		}
		if err := checkEndpoint(r.Witness.IP, r.Witness.RPCPort); err != nil {
			return fmt.Errorf("server %s: rpc endpoint: %w", r.Name, err)
		}
	default:
		return fmt.Errorf("server %s: unknown kind %d", r.Name, r.Kind)
	}
	return nil
}

func checkEndpoint(host string, port int) error {
	if strings.TrimSpace(host) == "" {
		return errors.New("host is required")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

// AdminAddr is the host:port the admin RPC client talks to:
// the HTTP endpoint of a chain node, the RPC endpoint of a witness.
func (r ServerRecord) AdminAddr() string {
	switch {
	case r.Chain != nil:
		return net.JoinHostPort(r.Chain.HTTPIP, strconv.Itoa(r.Chain.HTTPPort))
	case r.Witness != nil:
		return net.JoinHostPort(r.Witness.IP, strconv.Itoa(r.Witness.RPCPort))
	}
	return ""
}

// WSAddr is the WebSocket host:port of a chain node; empty for witnesses.
func (r ServerRecord) WSAddr() string {
	if r.Chain == nil {
		return ""
	}
	return net.JoinHostPort(r.Chain.WSIP, strconv.Itoa(r.Chain.WSPort))
}

// LogFile resolves the output log location, deriving <home>/<name>.out when unset.
func (r ServerRecord) LogFile(home string) string {
	if r.LogPath != "" {
		return r.LogPath
	}
	return filepath.Join(home, r.Name+".out")
}

// SameDeployment reports whether o describes the same node as r, ignoring the run identity.
func (r ServerRecord) SameDeployment(o ServerRecord) bool {
	if r.Name != o.Name || r.Kind != o.Kind || r.Exe != o.Exe || r.Config != o.Config {
		return false
	}
	switch r.Kind {
	case KindChain:
		return r.Chain != nil && o.Chain != nil && *r.Chain == *o.Chain
	case KindWitness:
		return r.Witness != nil && o.Witness != nil && *r.Witness == *o.Witness
	}
	return false
}

// WithRun returns a copy carrying a new run identity.
func (r ServerRecord) WithRun(pid int, startedAt int64) ServerRecord {
	r.PID = pid
	r.StartedAt = startedAt
	return r
}

// Clone deep-copies the endpoint pointer so callers can mutate freely.
func (r ServerRecord) Clone() ServerRecord {
	if r.Chain != nil {
		c := *r.Chain
		r.Chain = &c
	}
	if r.Witness != nil {
		w := *r.Witness
		r.Witness = &w
	}
	return r
}

// IsSafeName validates server names used in file names.
// Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func IsSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
