// Package tracking adapts an external experiment tracking service.
// Every call is best-effort: a tracker outage must never stall a
// pipeline run or a serving request, so failures are logged at Warn
// and dropped.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tracker records parameters, metrics, and artifact references against
// a named run.
type Tracker interface {
	StartRun(ctx context.Context, name string) string
	LogParam(ctx context.Context, runID, key, value string)
	LogMetric(ctx context.Context, runID, key string, value float64)
	LogArtifactRef(ctx context.Context, runID, fingerprint string)
	EndRun(ctx context.Context, runID, status string)
}

// Client is an HTTP Tracker. Each call carries its own short timeout
// so a slow tracker bounds, rather than blocks, the caller.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("tracking base url is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type startRunRequest struct {
	Name string `json:"name"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

// StartRun asks the tracker for a run id. When the tracker is
// unreachable the pipeline still needs an identifier, so the call
// degrades to a locally generated one.
func (c *Client) StartRun(ctx context.Context, name string) string {
	var resp startRunResponse
	err := c.post(ctx, "/api/v1/runs", startRunRequest{Name: name}, &resp)
	if err != nil || strings.TrimSpace(resp.RunID) == "" {
		local := uuid.NewString()
		c.logger.Warn("tracking start run failed, using local run id", "run", local, "error", err)
		return local
	}
	return resp.RunID
}

func (c *Client) LogParam(ctx context.Context, runID, key, value string) {
	body := map[string]string{"key": key, "value": value}
	if err := c.post(ctx, "/api/v1/runs/"+runID+"/params", body, nil); err != nil {
		c.logger.Warn("tracking log param failed", "run", runID, "key", key, "error", err)
	}
}

func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64) {
	body := map[string]any{"key": key, "value": value, "timestamp": time.Now().UTC().Format(time.RFC3339Nano)}
	if err := c.post(ctx, "/api/v1/runs/"+runID+"/metrics", body, nil); err != nil {
		c.logger.Warn("tracking log metric failed", "run", runID, "key", key, "error", err)
	}
}

func (c *Client) LogArtifactRef(ctx context.Context, runID, fingerprint string) {
	body := map[string]string{"fingerprint": fingerprint}
	if err := c.post(ctx, "/api/v1/runs/"+runID+"/artifacts", body, nil); err != nil {
		c.logger.Warn("tracking log artifact failed", "run", runID, "fingerprint", fingerprint, "error", err)
	}
}

func (c *Client) EndRun(ctx context.Context, runID, status string) {
	body := map[string]string{"status": status}
	if err := c.post(ctx, "/api/v1/runs/"+runID+"/end", body, nil); err != nil {
		c.logger.Warn("tracking end run failed", "run", runID, "error", err)
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tracker responded %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Nop is a Tracker that records nothing. Used when no tracking service
// is configured and in tests.
type Nop struct{}

func (Nop) StartRun(ctx context.Context, name string) string { return uuid.NewString() }

func (Nop) LogParam(ctx context.Context, runID, key, value string) {}

func (Nop) LogMetric(ctx context.Context, runID, key string, value float64) {}

func (Nop) LogArtifactRef(ctx context.Context, runID, fingerprint string) {}

func (Nop) EndRun(ctx context.Context, runID, status string) {}
