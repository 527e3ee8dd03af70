// Package localhttp is the local inference backend. It posts
// non-streaming generate requests to an Ollama-compatible HTTP server,
// with screenshots inlined as base64 images.
package localhttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/norm/timeline-daemon/internal/engine"
	"github.com/norm/timeline-daemon/internal/fault"
)

// Config holds the local HTTP backend configuration.
type Config struct {
	// BaseURL of the server, e.g. http://localhost:11434.
	BaseURL string

	// Model name known to the server.
	Model string

	// Timeout per request. Zero means five minutes; local models on
	// modest hardware are slow.
	Timeout time.Duration
}

// Caller implements engine.Caller over the local generate endpoint.
type Caller struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Caller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Caller{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Caller) ID() string { return "ollama" }

// CheckAvailable probes the server root. A refused connection means the
// server is not running, which the orchestrator treats as a failover
// signal rather than a hard error.
func (c *Caller) CheckAvailable() error {
	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("localhttp: %w", err)
	}
	probe := &http.Client{Timeout: 3 * time.Second}
	resp, err := probe.Do(req)
	if err != nil {
		return &fault.ProviderUnavailableError{
			Provider: c.ID(),
			Reason:   fmt.Sprintf("server unreachable at %s: %v", c.cfg.BaseURL, err),
		}
	}
	resp.Body.Close()
	return nil
}

func (c *Caller) Complete(ctx context.Context, req engine.Request) (*engine.Response, error) {
	body, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("localhttp: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &fault.ProviderUnavailableError{
			Provider: c.ID(),
			Reason:   fmt.Sprintf("generate request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("localhttp: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("localhttp: server returned %d: %s", resp.StatusCode, msg)
	}

	text := gjson.GetBytes(raw, "response").String()
	if text == "" {
		return nil, &fault.ParseError{Detail: "empty response field", Raw: string(raw)}
	}
	return &engine.Response{Text: text, Model: c.cfg.Model}, nil
}

func (c *Caller) buildBody(req engine.Request) ([]byte, error) {
	body := []byte(`{"stream":false}`)
	body, _ = sjson.SetBytes(body, "model", c.cfg.Model)
	body, _ = sjson.SetBytes(body, "prompt", req.Prompt)

	for i, path := range req.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("localhttp: read attachment %s: %w", path, err)
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		body, _ = sjson.SetBytes(body, fmt.Sprintf("images.%d", i), encoded)
	}
	return body, nil
}
