package openclaw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// InvokeRequest is one LLM run handed to the host.
type InvokeRequest struct {
	SessionKey string            `json:"-"`
	Prompt     string            `json:"message"`
	Model      string            `json:"model,omitempty"`
	Tools      []string          `json:"tools,omitempty"`
	Headers    map[string]string `json:"-"`
}

// InvokeResponse is the host's reply. UsedTools feeds the affinity learner.
type InvokeResponse struct {
	OK        bool     `json:"ok"`
	Content   string   `json:"content"`
	UsedTools []string `json:"usedTools,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Client invokes the host's LLM endpoint over HTTP. The caller supplies the
// timeout via context; headers must already have passed the routing guard.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a host client. The HTTP client carries no timeout of its
// own; runs are bounded by the per-call context.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 0},
	}
}

// Invoke posts the run to the host and returns its content.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("content-type", "application/json")
	if req.SessionKey != "" {
		httpReq.Header.Set("x-openclaw-session-key", req.SessionKey)
	}
	for k, v := range req.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("host invoke after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("host invoke: status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	var out InvokeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("host invoke: bad response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("host invoke: %s", out.Error)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
