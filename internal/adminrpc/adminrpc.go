// Package adminrpc relays opaque admin JSON-RPC calls to chain and witness nodes.
package adminrpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/xchainctl/internal/metrics"
	"github.com/loykin/xchainctl/internal/record"
)

var (
	ErrUnreachable       = errors.New("server unreachable")
	ErrMalformedResponse = errors.New("malformed RPC response")
	ErrBadParams         = errors.New("params must be a JSON object or array")
)

const (
	DefaultTimeout = 10 * time.Second
	maxResponse    = 16 << 20
)

// Options configure a Client.
type Options struct {
	Timeout time.Duration
	// TLS switches to https and wss when non-nil.
	TLS    *tls.Config
	Logger *slog.Logger
}

// Client sends one request per call. It never retries: admin commands may mutate node state.
type Client struct {
	http    *http.Client
	tls     *tls.Config
	timeout time.Duration
	logger  *slog.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = opts.TLS
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout, Transport: tr},
		tls:     opts.TLS,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// Response is the node's reply, passed through verbatim.
type Response struct {
	Raw json.RawMessage
}

// Result is the raw "result" member.
func (r Response) Result() json.RawMessage {
	return json.RawMessage(gjson.GetBytes(r.Raw, "result").Raw)
}

// Status is result.status, e.g. "success" or "error"; empty when absent.
func (r Response) Status() string {
	return gjson.GetBytes(r.Raw, "result.status").String()
}

func (r Response) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// Request posts {"method": method, "params": params} to the node's admin endpoint:
// http_ip:http_port for chains, ip:rpc_port for witnesses.
// params may be nil (sent as [{}]), a JSON object (wrapped as [obj]) or an array,
// given either as a Go value or as raw JSON bytes.
func (c *Client) Request(ctx context.Context, rec record.ServerRecord, method string, params any) (Response, error) {
	resp, err := c.request(ctx, rec, method, params)
	return resp, record.WrapOp("request", rec.Name, err)
}

func (c *Client) request(ctx context.Context, rec record.ServerRecord, method string, params any) (Response, error) {
	p, err := NormalizeParams(params)
	if err != nil {
		return Response{}, err
	}
	body, err := json.Marshal(struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}{method, p})
	if err != nil {
		return Response{}, err
	}
	url := c.scheme("http") + "://" + rec.AdminAddr() + "/"

	start := time.Now()
	raw, err := c.post(ctx, url, body)
	if err == nil {
		err = validate(raw)
	}
	metrics.ObserveRPC(rec.Kind.String(), time.Since(start), err == nil)
	if err != nil {
		c.logger.Debug("admin rpc failed", "name", rec.Name, "method", method, "url", url, "error", err)
		return Response{}, err
	}
	return Response{Raw: raw}, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read: %w", ErrUnreachable, url, err)
	}
	if len(b) > maxResponse {
		return nil, fmt.Errorf("%w: %s: response exceeds %dMiB", ErrMalformedResponse, url, maxResponse>>20)
	}
	if resp.StatusCode >= 300 && !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("%w: %s: status %d", ErrMalformedResponse, url, resp.StatusCode)
	}
	return b, nil
}

func (c *Client) scheme(plain string) string {
	if c.tls == nil {
		return plain
	}
	return plain + "s"
}

// validate requires a JSON object carrying an object "result" member.
// Node-level errors inside result are not transport failures.
func validate(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("%w: not JSON", ErrMalformedResponse)
	}
	doc := gjson.ParseBytes(b)
	if !doc.IsObject() {
		return fmt.Errorf("%w: not a JSON object", ErrMalformedResponse)
	}
	if res := doc.Get("result"); !res.IsObject() {
		return fmt.Errorf("%w: missing result object", ErrMalformedResponse)
	}
	return nil
}

// NormalizeParams turns params into the JSON array sent on the wire.
func NormalizeParams(params any) (json.RawMessage, error) {
	var raw []byte
	switch p := params.(type) {
	case nil:
		return json.RawMessage(`[{}]`), nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadParams, err)
		}
		raw = b
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`[{}]`), nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrBadParams)
	}
	switch v := gjson.ParseBytes(raw); {
	case v.IsArray():
		return json.RawMessage(raw), nil
	case v.IsObject():
		out := make([]byte, 0, len(raw)+2)
		out = append(out, '[')
		out = append(out, raw...)
		return json.RawMessage(append(out, ']')), nil
	}
	return nil, ErrBadParams
}
