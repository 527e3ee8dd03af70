package provider

import (
	"fmt"

	"github.com/norm/timeline-daemon/internal/analytics"
	"github.com/norm/timeline-daemon/internal/config"
	"github.com/norm/timeline-daemon/internal/engine"
	"github.com/norm/timeline-daemon/internal/provider/anthropicapi"
	"github.com/norm/timeline-daemon/internal/provider/claudecli"
	"github.com/norm/timeline-daemon/internal/provider/codexcli"
	"github.com/norm/timeline-daemon/internal/provider/localhttp"
)

// Build wires the configured primary and optional secondary backends
// into an orchestrator.
func Build(cfg *config.Config, sink analytics.Sink) (*Orchestrator, error) {
	primary, err := fromName(cfg.Providers.Primary, cfg)
	if err != nil {
		return nil, err
	}

	var secondary *Provider
	if cfg.Providers.Secondary != "" {
		secondary, err = fromName(cfg.Providers.Secondary, cfg)
		if err != nil {
			return nil, err
		}
	}
	return NewOrchestrator(primary, secondary, sink), nil
}

func fromName(name string, cfg *config.Config) (*Provider, error) {
	opts := engine.Options{
		Categories:       cfg.CategoryNames(),
		IdleCategory:     cfg.IdleCategory(),
		CardsPrompt:      cfg.Prompts.Cards,
		TranscribePrompt: cfg.Prompts.Transcribe,
		MergePrompt:      cfg.Prompts.Merge,
		MergeConfidence:  cfg.MergeConfidence,
	}

	switch name {
	case "claude":
		caller, err := claudecli.New(claudecli.Config{
			Model:   cfg.Models.Claude,
			Timeout: cfg.StreamTimeout,
		})
		if err != nil {
			return nil, err
		}
		return New(name, "Claude CLI", caller, opts, nil), nil

	case "codex":
		caller, err := codexcli.New(codexcli.Config{
			Model:   cfg.Models.Codex,
			Timeout: cfg.StreamTimeout,
		})
		if err != nil {
			return nil, err
		}
		return New(name, "Codex CLI", caller, opts, nil), nil

	case "anthropic":
		caller := anthropicapi.New(anthropicapi.Config{
			Model:         cfg.Models.Anthropic,
			FallbackModel: cfg.Models.AnthropicFallback,
			APIKey:        cfg.AnthropicAPIKey,
		})
		return New(name, "Anthropic API", caller, opts, caller.CheckAvailable), nil

	case "ollama":
		caller := localhttp.New(localhttp.Config{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.Models.Ollama,
			Timeout: cfg.StreamTimeout,
		})
		return New(name, "Local (Ollama)", caller, opts, caller.CheckAvailable), nil
	}

	return nil, fmt.Errorf("provider: unknown provider %q (want claude, codex, anthropic, or ollama)", name)
}
