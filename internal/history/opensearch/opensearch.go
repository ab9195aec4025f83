package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/xchainctl/internal/history"
)

const maxErrorBody = 4 << 10

// Sink indexes events into OpenSearch (or Elasticsearch) over HTTP.
// Documents are POSTed to baseURL/index/_doc.
type Sink struct {
	client *http.Client
	docURL string
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client: &http.Client{Timeout: 5 * time.Second},
		docURL: strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(index) + "/_doc",
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.docURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	// {"error":{"type":"...","reason":"..."}} or {"error":"..."}
	reason := gjson.GetBytes(body, "error.reason").String()
	if reason == "" {
		reason = gjson.GetBytes(body, "error").String()
	}
	if reason == "" {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, reason)
}
