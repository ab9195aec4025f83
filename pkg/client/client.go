package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to a running `xchainctl serve` API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 30 * time.Second,
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Phase   string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "HTTP " + strconv.Itoa(e.Status)
	}
	return "API error: " + e.Message
}

// New creates a new API client with TLS support
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, fmt.Errorf("client TLS: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// IsReachable checks if the API is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/servers", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("API unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// ListServers returns live servers, chains first. kind may be empty, "chain" or "witness".
func (c *Client) ListServers(ctx context.Context, kind string) ([]ServerInfo, error) {
	u := c.baseURL + "/servers"
	if kind != "" {
		u += "?kind=" + url.QueryEscape(kind)
	}
	var out []ServerInfo
	return out, c.doJSON(ctx, http.MethodGet, u, nil, &out)
}

func (c *Client) GetServer(ctx context.Context, name string) (ServerInfo, error) {
	var out ServerInfo
	return out, c.doJSON(ctx, http.MethodGet, c.serverURL(name, ""), nil, &out)
}

func (c *Client) StartServer(ctx context.Context, req StartRequest) (ServerInfo, error) {
	c.logger.Debug("Starting server", "name", req.Name, "kind", req.Kind)
	var out ServerInfo
	return out, c.doJSON(ctx, http.MethodPost, c.baseURL+"/servers", req, &out)
}

// StopServer stops name with the given signal name ("" for INT).
func (c *Client) StopServer(ctx context.Context, name, signal string) (StopResponse, error) {
	u := c.serverURL(name, "/stop")
	if signal != "" {
		u += "?signal=" + url.QueryEscape(signal)
	}
	var out StopResponse
	return out, c.doJSON(ctx, http.MethodPost, u, nil, &out)
}

func (c *Client) RestartServer(ctx context.Context, name string) (ServerInfo, error) {
	var out ServerInfo
	return out, c.doJSON(ctx, http.MethodPost, c.serverURL(name, "/restart"), nil, &out)
}

// Output returns the captured output of name, the last tail lines when tail > 0.
func (c *Client) Output(ctx context.Context, name string, tail int) (string, error) {
	u := c.serverURL(name, "/output")
	if tail > 0 {
		u += "?tail=" + strconv.Itoa(tail)
	}
	b, err := c.do(ctx, http.MethodGet, u, nil)
	return string(b), err
}

// Request relays an admin call and returns the node's response verbatim.
func (c *Client) Request(ctx context.Context, name string, req RPCRequest) (json.RawMessage, error) {
	var out json.RawMessage
	return out, c.doJSON(ctx, http.MethodPost, c.serverURL(name, "/request"), req, &out)
}

func (c *Client) Prune(ctx context.Context) ([]string, error) {
	var out PruneResponse
	return out.Removed, c.doJSON(ctx, http.MethodPost, c.baseURL+"/servers/prune", nil, &out)
}

func (c *Client) serverURL(name, suffix string) string {
	return c.baseURL + "/servers/" + url.PathEscape(name) + suffix
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// doJSON sends in as JSON (when non-nil) and decodes a 2xx body into out.
func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = b
	}
	b, err := c.do(ctx, method, u, body)
	if err != nil {
		return err
	}
	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do performs the request and turns non-2xx answers into *APIError.
func (c *Client) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return b, nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	var er ErrorResponse
	if json.Unmarshal(b, &er) == nil {
		apiErr.Code, apiErr.Phase, apiErr.Message = er.Code, er.Phase, er.Error
	}
	c.logger.Debug("API request failed", "error", apiErr.Message, "status", resp.StatusCode)
	return nil, apiErr
}
