package adminrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/loykin/xchainctl/internal/metrics"
	"github.com/loykin/xchainctl/internal/record"
)

// ErrNoWebSocket is returned by RequestWS for nodes without a WebSocket endpoint.
var ErrNoWebSocket = errors.New("server has no websocket endpoint")

// RequestWS sends one command over the chain node's WebSocket endpoint using the
// command envelope {"id":1,"command":method,...}. The first params object, if any,
// is merged into the envelope.
func (c *Client) RequestWS(ctx context.Context, rec record.ServerRecord, method string, params any) (Response, error) {
	resp, err := c.requestWS(ctx, rec, method, params)
	return resp, record.WrapOp("request", rec.Name, err)
}

func (c *Client) requestWS(ctx context.Context, rec record.ServerRecord, method string, params any) (Response, error) {
	addr := rec.WSAddr()
	if addr == "" {
		return Response{}, ErrNoWebSocket
	}
	msg, err := wsEnvelope(method, params)
	if err != nil {
		return Response{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.scheme("ws") + "://" + addr + "/"
	start := time.Now()
	raw, err := c.roundTrip(ctx, url, msg)
	if err == nil {
		err = validate(raw)
	}
	metrics.ObserveRPC(rec.Kind.String(), time.Since(start), err == nil)
	if err != nil {
		return Response{}, err
	}
	return Response{Raw: raw}, nil
}

func (c *Client) roundTrip(ctx context.Context, url string, msg []byte) ([]byte, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.timeout, TLSClientConfig: c.tls}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, url, err)
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
		_ = conn.SetReadDeadline(dl)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: write: %w", ErrUnreachable, url, err)
	}
	// skip unsolicited stream messages until our id comes back
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: read: %w", ErrUnreachable, url, err)
		}
		if gjson.GetBytes(b, "id").Int() == 1 {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return b, nil
		}
	}
}

func wsEnvelope(method string, params any) ([]byte, error) {
	p, err := NormalizeParams(params)
	if err != nil {
		return nil, err
	}
	cmd, err := json.Marshal(method)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"id":1,"command":`)
	buf.Write(cmd)
	// members of the first params object follow in their original order and spelling
	if first := gjson.GetBytes(p, "0"); first.IsObject() {
		first.ForEach(func(k, v gjson.Result) bool {
			if k.String() == "id" || k.String() == "command" {
				return true
			}
			buf.WriteByte(',')
			buf.WriteString(k.Raw)
			buf.WriteByte(':')
			buf.WriteString(v.Raw)
			return true
		})
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
