package provider

import (
	"context"
	"log"
	"time"

	"github.com/norm/timeline-daemon/internal/agentstream"
	"github.com/norm/timeline-daemon/internal/analytics"
	"github.com/norm/timeline-daemon/internal/engine"
	"github.com/norm/timeline-daemon/internal/timeline"
)

// Context is the per-batch provider state. It is created for one batch
// call and discarded afterward; concurrent batches never share one.
type Context struct {
	Provider string
	Label    string
	Batch    *engine.Batch
}

// NewContext builds the per-batch context for a provider.
func NewContext(p *Provider, batchID string) *Context {
	return &Context{Provider: p.ID(), Label: p.Label(), Batch: &engine.Batch{ID: batchID}}
}

// Orchestrator routes operations to the primary provider and fails over
// to the secondary once per operation. Secondary is optional and always
// distinct from primary.
type Orchestrator struct {
	primary   *Provider
	secondary *Provider
	sink      analytics.Sink
}

func NewOrchestrator(primary, secondary *Provider, sink analytics.Sink) *Orchestrator {
	if sink == nil {
		sink = analytics.Nop{}
	}
	return &Orchestrator{primary: primary, secondary: secondary, sink: sink}
}

// Primary returns the configured primary provider.
func (o *Orchestrator) Primary() *Provider { return o.primary }

// HasSecondary reports whether a failover target is configured.
func (o *Orchestrator) HasSecondary() bool { return o.secondary != nil }

// Transcribe runs the transcription operation with failover.
func (o *Orchestrator) Transcribe(ctx context.Context, pctx *Context, shots []timeline.Screenshot, batchStart time.Time) ([]timeline.Observation, *engine.CallLog, error) {
	return failover(o, pctx, "transcribe", func(p *Provider, batch *engine.Batch) ([]timeline.Observation, *engine.CallLog, error) {
		return p.Transcribe(ctx, batch, shots, batchStart)
	})
}

// GenerateCards runs card generation with failover.
func (o *Orchestrator) GenerateCards(ctx context.Context, pctx *Context, obs []timeline.Observation, existing []timeline.ActivityCard) ([]timeline.ActivityCard, *engine.CallLog, error) {
	return failover(o, pctx, "generate_cards", func(p *Provider, batch *engine.Batch) ([]timeline.ActivityCard, *engine.CallLog, error) {
		return p.GenerateCards(ctx, batch, obs, existing)
	})
}

// MergeInto merges against whichever provider the context is bound to.
// Merge failures degrade to standalone appends inside the engine, so no
// failover applies here.
func (o *Orchestrator) MergeInto(ctx context.Context, pctx *Context, running []timeline.ActivityCard, card timeline.ActivityCard) ([]timeline.ActivityCard, error) {
	return o.active(pctx).MergeInto(ctx, pctx.Batch, running, card)
}

// GenerateText runs plain completion with failover.
func (o *Orchestrator) GenerateText(ctx context.Context, pctx *Context, prompt string) (string, *engine.CallLog, error) {
	return failover(o, pctx, "generate_text", func(p *Provider, batch *engine.Batch) (string, *engine.CallLog, error) {
		return p.GenerateText(ctx, prompt)
	})
}

// GenerateTextStream streams from the context's active provider. Mid-
// stream failover is not attempted; a failed stream ends in one error
// event and the caller decides whether to retry.
func (o *Orchestrator) GenerateTextStream(ctx context.Context, pctx *Context, prompt string) <-chan agentstream.Event {
	return o.active(pctx).GenerateTextStream(ctx, prompt)
}

func (o *Orchestrator) active(pctx *Context) *Provider {
	if o.secondary != nil && pctx.Provider == o.secondary.ID() {
		return o.secondary
	}
	return o.primary
}

// failover tries the context's active provider, then the secondary once
// when the active provider was the primary. The secondary's failure
// never masks the original error.
func failover[T any](o *Orchestrator, pctx *Context, op string, fn func(*Provider, *engine.Batch) (T, *engine.CallLog, error)) (T, *engine.CallLog, error) {
	active := o.active(pctx)

	result, clog, err := fn(active, pctx.Batch)
	if err == nil {
		return result, clog, nil
	}
	if o.secondary == nil || active.ID() != o.primary.ID() {
		return result, clog, err
	}

	props := map[string]any{
		"operation": op,
		"from":      o.primary.ID(),
		"to":        o.secondary.ID(),
		"error":     err.Error(),
	}
	o.sink.Track(analytics.EventFallbackAttempt, props)
	log.Printf("provider: %s failed on %s, trying %s: %v", o.primary.ID(), op, o.secondary.ID(), err)

	// The degraded-tier flag is primary-internal; the secondary starts
	// its own batch state but keeps the batch identity.
	fallbackBatch := &engine.Batch{ID: pctx.Batch.ID}
	result2, clog2, err2 := fn(o.secondary, fallbackBatch)
	if err2 == nil {
		pctx.Provider = o.secondary.ID()
		pctx.Label = o.secondary.Label()
		pctx.Batch = fallbackBatch
		o.sink.Track(analytics.EventFallbackSuccess, props)
		return result2, clog2, nil
	}

	props["fallback_error"] = err2.Error()
	o.sink.Track(analytics.EventFallbackFailure, props)
	return result, clog, err
}
