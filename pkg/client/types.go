package client

import "encoding/json"

// ServerInfo is one registered server as reported by the API.
// Chain servers carry the ws/http endpoints, witnesses carry ip/rpc_port.
type ServerInfo struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	PID       int    `json:"pid"`
	Exe       string `json:"exe"`
	Config    string `json:"config"`
	State     string `json:"state,omitempty"`
	StartedAt int64  `json:"started_at,omitempty"`
	Log       string `json:"log,omitempty"`

	WSIP     string `json:"ws_ip,omitempty"`
	WSPort   int    `json:"ws_port,omitempty"`
	HTTPIP   string `json:"http_ip,omitempty"`
	HTTPPort int    `json:"http_port,omitempty"`

	IP      string `json:"ip,omitempty"`
	RPCPort int    `json:"rpc_port,omitempty"`
}

// StartRequest describes a server to start. The endpoint fields follow Kind.
type StartRequest struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Exe    string `json:"exe"`
	Config string `json:"config"`
	Log    string `json:"log,omitempty"`

	WSIP     string `json:"ws_ip,omitempty"`
	WSPort   int    `json:"ws_port,omitempty"`
	HTTPIP   string `json:"http_ip,omitempty"`
	HTTPPort int    `json:"http_port,omitempty"`

	IP      string `json:"ip,omitempty"`
	RPCPort int    `json:"rpc_port,omitempty"`
}

// RPCRequest is relayed to the node's admin endpoint.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	// Transport is "http" (default) or "ws" for chain servers.
	Transport string `json:"transport,omitempty"`
}

// StopResponse reports the outcome of a stop.
type StopResponse struct {
	Name           string `json:"name"`
	AlreadyStopped bool   `json:"already_stopped,omitempty"`
}

// PruneResponse lists the servers removed by a prune.
type PruneResponse struct {
	Removed []string `json:"removed"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is a stable machine-readable reason such as "not_found" or "unreachable".
	Code string `json:"code,omitempty"`
	// Phase is set for failed restarts.
	Phase string `json:"phase,omitempty"`
}
