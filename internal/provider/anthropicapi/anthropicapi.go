// Package anthropicapi is the hosted-API backend. Unlike the CLI
// backends it talks to the Messages API directly, and it carries an
// internal two-tier fallback: when the full model is rejected with a
// retryable failure, the call is repeated against a smaller model of the
// same family. The downshift is reported so the engine can pin the rest
// of the batch to the degraded tier.
package anthropicapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/norm/timeline-daemon/internal/engine"
	"github.com/norm/timeline-daemon/internal/fault"
)

// Config holds the hosted API backend configuration.
type Config struct {
	// Model is the full-tier model.
	Model string

	// FallbackModel is the smaller same-family tier. Empty disables the
	// downshift.
	FallbackModel string

	// APIKey; empty falls back to ANTHROPIC_API_KEY.
	APIKey string

	// MaxTokens for output. Zero uses a generation-sized default.
	MaxTokens int
}

// Caller implements engine.Caller over the Messages API.
type Caller struct {
	cfg    Config
	client anthropic.Client
	keyErr error
}

func New(cfg Config, opts ...option.RequestOption) *Caller {
	c := &Caller{cfg: cfg}

	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		c.keyErr = &fault.ProviderUnavailableError{
			Provider: c.ID(),
			Reason:   "no API key: set anthropic_api_key in config or ANTHROPIC_API_KEY",
		}
		return c
	}

	c.client = anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(key)}, opts...)...)
	return c
}

func (c *Caller) ID() string { return "anthropic" }

// CheckAvailable reports missing credentials without making a request.
func (c *Caller) CheckAvailable() error { return c.keyErr }

func (c *Caller) Complete(ctx context.Context, req engine.Request) (*engine.Response, error) {
	if c.keyErr != nil {
		return nil, c.keyErr
	}

	model := c.cfg.Model
	usedFallback := false
	if req.PreferFallbackTier && c.cfg.FallbackModel != "" {
		model = c.cfg.FallbackModel
		usedFallback = true
	}

	text, err := c.message(ctx, model, req)
	if err != nil && !usedFallback && c.cfg.FallbackModel != "" && isDownshiftable(err) {
		text, err = c.message(ctx, c.cfg.FallbackModel, req)
		if err == nil {
			return &engine.Response{Text: text, Model: c.cfg.FallbackModel, UsedFallbackTier: true}, nil
		}
	}
	if err != nil {
		if isRateLimited(err) {
			return nil, &fault.RateLimitedError{Provider: c.ID(), Cause: err}
		}
		return nil, fmt.Errorf("anthropicapi: %w", err)
	}

	return &engine.Response{Text: text, Model: model, UsedFallbackTier: usedFallback}, nil
}

func (c *Caller) message(ctx context.Context, model string, req engine.Request) (string, error) {
	maxTokens := c.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	blocks, err := buildBlocks(req)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

func buildBlocks(req engine.Request) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Attachments)+1)
	for _, path := range req.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment %s: %w", path, err)
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType(path), encoded))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))
	return blocks, nil
}

func mediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

// isDownshiftable reports whether retrying against the smaller tier is
// worth it: rate limits, overload, and server-side failures.
func isDownshiftable(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "rate_limit") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "overloaded") ||
		strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "529")
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "rate_limit") || strings.Contains(s, "429")
}
