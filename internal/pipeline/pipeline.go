// Package pipeline ties the stages together: a spooled batch manifest is
// transcribed into observations, observations become validated activity
// cards, and each card is merged into the running day timeline before the
// affected window is written back to the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/norm/timeline-daemon/internal/analytics"
	"github.com/norm/timeline-daemon/internal/attachments"
	"github.com/norm/timeline-daemon/internal/fault"
	"github.com/norm/timeline-daemon/internal/provider"
	"github.com/norm/timeline-daemon/internal/spool"
	"github.com/norm/timeline-daemon/internal/store"
	"github.com/norm/timeline-daemon/internal/timeline"
)

// Options tunes the pipeline.
type Options struct {
	// ScratchDir hosts per-call attachment staging. Empty uses the OS
	// temp dir.
	ScratchDir string

	// IdleCategory labels the placeholder card written when a batch
	// fails outright.
	IdleCategory string

	// BatchTimeout bounds one batch end to end. Zero means no bound
	// beyond the caller's context.
	BatchTimeout time.Duration
}

// Pipeline processes observation batches into stored activity cards.
type Pipeline struct {
	orch  *provider.Orchestrator
	store store.Store
	sink  analytics.Sink
	opts  Options
}

func New(orch *provider.Orchestrator, st store.Store, sink analytics.Sink, opts Options) *Pipeline {
	if sink == nil {
		sink = analytics.Nop{}
	}
	if opts.IdleCategory == "" {
		opts.IdleCategory = "Idle"
	}
	return &Pipeline{orch: orch, store: st, sink: sink, opts: opts}
}

// Run consumes manifests from the watcher until ctx is done. Handled
// manifests move to processed/, failed ones to failed/ after the
// placeholder card is written.
func (p *Pipeline) Run(ctx context.Context, w *spool.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-w.Events():
			if !ok {
				return
			}
			if err := p.ProcessBatch(ctx, m); err != nil {
				log.Printf("pipeline: batch %s failed: %v", m.BatchID, err)
				if err := w.MarkFailed(m); err != nil {
					log.Printf("pipeline: %v", err)
				}
				continue
			}
			if err := w.MarkProcessed(m); err != nil {
				log.Printf("pipeline: %v", err)
			}
		}
	}
}

// ProcessBatch runs one manifest through transcription, generation, and
// merge. A batch that fails past all retries and the provider fallback
// still leaves a trace: a placeholder card covering its window.
func (p *Pipeline) ProcessBatch(ctx context.Context, m *spool.Manifest) error {
	if p.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.BatchTimeout)
		defer cancel()
	}

	pctx := provider.NewContext(p.orch.Primary(), m.BatchID)
	err := p.process(ctx, pctx, m)
	if err == nil {
		return nil
	}

	p.sink.Track(analytics.EventBatchFailed, map[string]any{
		"batch_id": m.BatchID,
		"provider": pctx.Provider,
		"error":    err.Error(),
	})
	p.adviseOnRateLimit(err)

	if phErr := p.writePlaceholder(ctx, m, err); phErr != nil {
		log.Printf("pipeline: placeholder for batch %s: %v", m.BatchID, phErr)
	}
	return err
}

func (p *Pipeline) process(ctx context.Context, pctx *provider.Context, m *spool.Manifest) error {
	scratch, err := attachments.NewScratch(p.opts.ScratchDir)
	if err != nil {
		return err
	}
	defer scratch.Cleanup()

	paths := make([]string, len(m.Screenshots))
	for i, s := range m.Screenshots {
		paths[i] = s.Path
	}
	staged, err := scratch.Stage(paths)
	if err != nil {
		return err
	}
	shots := make([]timeline.Screenshot, len(m.Screenshots))
	for i, s := range m.Screenshots {
		shots[i] = timeline.Screenshot{Path: staged[i], CapturedTs: s.CapturedTs}
	}

	batchStart := time.Unix(int64(m.StartTs), 0)
	obs, _, err := p.orch.Transcribe(ctx, pctx, shots, batchStart)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if err := p.store.InsertObservations(ctx, obs); err != nil {
		return fmt.Errorf("store observations: %w", err)
	}

	// Generation sees every stored observation overlapping the window,
	// not just this manifest's, so re-spooled batches stay consistent.
	windowObs, err := p.store.ObservationsInRange(ctx, int64(m.StartTs), int64(m.EndTs))
	if err != nil {
		return fmt.Errorf("load observations: %w", err)
	}
	if len(windowObs) == 0 {
		windowObs = obs
	}

	day, window := batchWindow(m)
	existing, err := p.store.CardsInRange(ctx, day, window)
	if err != nil {
		return fmt.Errorf("load cards: %w", err)
	}

	cards, clog, err := p.orch.GenerateCards(ctx, pctx, windowObs, existing)
	if err != nil {
		return fmt.Errorf("generate cards: %w", err)
	}
	p.sink.Track(analytics.EventCardsGenerated, map[string]any{
		"batch_id": m.BatchID,
		"provider": pctx.Provider,
		"count":    len(cards),
		"attempts": clog.Attempts,
	})
	if clog.UsedFallbackTier {
		p.sink.Track(analytics.EventTierDownshift, map[string]any{
			"batch_id": m.BatchID,
			"provider": pctx.Provider,
		})
	}

	// Merge against the day's timeline up to the window end; the card
	// just before the window may absorb the first new card, so the
	// write-back spans the same prefix.
	mergeSpan := timeline.TimeRange{Start: 0, End: window.End}
	running, err := p.store.CardsInRange(ctx, day, mergeSpan)
	if err != nil {
		return fmt.Errorf("load running timeline: %w", err)
	}
	before := len(running)
	for _, card := range cards {
		running, err = p.orch.MergeInto(ctx, pctx, running, card)
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
	}
	merged := before + len(cards) - len(running)
	if merged > 0 {
		p.sink.Track(analytics.EventCardsMerged, map[string]any{
			"batch_id": m.BatchID,
			"count":    merged,
		})
	}

	if err := p.store.ReplaceCardsInRange(ctx, day, mergeSpan, running); err != nil {
		return fmt.Errorf("store cards: %w", err)
	}
	return nil
}

// adviseOnRateLimit surfaces a configuration hint when the only
// configured backend is rate limited and there is nothing to fail over to.
func (p *Pipeline) adviseOnRateLimit(err error) {
	var rateErr *fault.RateLimitedError
	if !errors.As(err, &rateErr) || p.orch.HasSecondary() {
		return
	}
	p.sink.Track(analytics.EventRateLimitAdvice, map[string]any{
		"provider": rateErr.Provider,
	})
	log.Printf("pipeline: %s is rate limited and no secondary provider is configured; set providers.secondary to keep batches flowing", rateErr.Provider)
}

// writePlaceholder records the failed window without touching history:
// existing cards stay as they are, and placeholder cards fill only the
// span no card already covers.
func (p *Pipeline) writePlaceholder(ctx context.Context, m *spool.Manifest, cause error) error {
	day, window := batchWindow(m)

	existing, err := p.store.CardsInRange(ctx, day, window)
	if err != nil {
		return err
	}
	covered := make([]timeline.TimeRange, 0, len(existing))
	for _, c := range existing {
		r, err := timeline.CardRange(c)
		if err != nil {
			return err
		}
		covered = append(covered, r)
	}

	cards := existing
	for _, hole := range timeline.Gaps(covered, window) {
		if hole.Duration() < 1 {
			continue
		}
		cards = append(cards, timeline.ActivityCard{
			StartTime: timeline.FormatClockMinutes(hole.Start),
			EndTime:   timeline.FormatClockMinutes(hole.End),
			Category:  p.opts.IdleCategory,
			Title:     "Processing failed",
			Summary:   fmt.Sprintf("Activity could not be synthesized for this window: %v", cause),
		})
	}
	if len(cards) == len(existing) {
		return nil
	}
	return p.store.ReplaceCardsInRange(ctx, day, window, cards)
}

// batchWindow converts a manifest's epoch span into the store's day key
// plus a minutes-since-midnight range, rollover-corrected.
func batchWindow(m *spool.Manifest) (string, timeline.TimeRange) {
	start := time.Unix(int64(m.StartTs), 0)
	end := time.Unix(int64(m.EndTs), 0)

	day := m.Day()
	startMin := float64(start.Hour()*60 + start.Minute())
	endMin := float64(end.Hour()*60 + end.Minute())
	if endMin < startMin {
		endMin += 24 * 60
	}
	return day, timeline.TimeRange{Start: startMin, End: endMin}
}
