// Package provider wraps the interchangeable model backends behind one
// interface and routes every top-level operation through a primary /
// secondary failover orchestrator. Backends implement only the narrow
// engine.Caller capability; all generation, validation, and merge logic
// lives in the shared engine.
package provider

import (
	"context"
	"time"

	"github.com/norm/timeline-daemon/internal/agentstream"
	"github.com/norm/timeline-daemon/internal/engine"
	"github.com/norm/timeline-daemon/internal/timeline"
)

// StreamCaller is the optional streaming capability of a backend.
type StreamCaller interface {
	engine.Caller
	Stream(ctx context.Context, req engine.Request) <-chan agentstream.Event
}

// Provider couples one backend caller with the shared engine.
type Provider struct {
	id     string
	label  string
	caller engine.Caller
	engine *engine.Engine
	check  func() error
}

// New builds a provider from a backend caller. check runs before every
// operation and reports missing credentials or configuration; nil means
// always available.
func New(id, label string, caller engine.Caller, opts engine.Options, check func() error) *Provider {
	return &Provider{
		id:     id,
		label:  label,
		caller: caller,
		engine: engine.New(caller, opts),
		check:  check,
	}
}

func (p *Provider) ID() string    { return p.id }
func (p *Provider) Label() string { return p.label }

// Available reports whether the provider is configured well enough to try.
func (p *Provider) Available() error {
	if p.check == nil {
		return nil
	}
	return p.check()
}

// Transcribe converts one chunk's screenshots into observations.
func (p *Provider) Transcribe(ctx context.Context, batch *engine.Batch, shots []timeline.Screenshot, batchStart time.Time) ([]timeline.Observation, *engine.CallLog, error) {
	if err := p.Available(); err != nil {
		return nil, nil, err
	}
	return p.engine.Transcribe(ctx, batch, shots, batchStart)
}

// GenerateCards produces a validated card set for the batch window.
func (p *Provider) GenerateCards(ctx context.Context, batch *engine.Batch, obs []timeline.Observation, existing []timeline.ActivityCard) ([]timeline.ActivityCard, *engine.CallLog, error) {
	if err := p.Available(); err != nil {
		return nil, nil, err
	}
	return p.engine.GenerateCards(ctx, batch, obs, existing)
}

// MergeInto folds a freshly generated card into the running timeline.
func (p *Provider) MergeInto(ctx context.Context, batch *engine.Batch, running []timeline.ActivityCard, card timeline.ActivityCard) ([]timeline.ActivityCard, error) {
	return p.engine.MergeInto(ctx, batch, running, card)
}

// GenerateText is the plain completion surface.
func (p *Provider) GenerateText(ctx context.Context, prompt string) (string, *engine.CallLog, error) {
	if err := p.Available(); err != nil {
		return "", nil, err
	}
	return p.engine.GenerateText(ctx, prompt)
}

// GenerateTextStream yields decoded events as the backend produces them.
// Backends without native streaming complete synchronously and emit a
// single terminal event.
func (p *Provider) GenerateTextStream(ctx context.Context, prompt string) <-chan agentstream.Event {
	if sc, ok := p.caller.(StreamCaller); ok {
		return sc.Stream(ctx, engine.Request{Prompt: prompt})
	}

	out := make(chan agentstream.Event, 1)
	go func() {
		defer close(out)
		text, _, err := p.GenerateText(ctx, prompt)
		if err != nil {
			out <- agentstream.Event{Type: agentstream.EventError, Text: err.Error()}
			return
		}
		out <- agentstream.Event{Type: agentstream.EventComplete, Text: text}
	}()
	return out
}
