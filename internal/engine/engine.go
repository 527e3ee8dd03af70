// Package engine drives the bounded generation-and-validation loop that
// turns observation batches into activity cards. It is parameterized
// over a narrow Caller capability so every backend (CLI, local HTTP,
// hosted API) shares one implementation of parsing, validation,
// corrective retries, and card merging.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/norm/timeline-daemon/internal/fault"
	"github.com/norm/timeline-daemon/internal/timeline"
)

// Request is one model call.
type Request struct {
	Prompt string

	// SessionID resumes a prior exchange on backends that support
	// sessions. Empty means a fresh attempt.
	SessionID string

	// Attachments are image paths handed to the backend.
	Attachments []string

	// PreferFallbackTier asks a tiered backend to go straight to its
	// degraded model.
	PreferFallbackTier bool
}

// Response is a completed model call.
type Response struct {
	Text             string
	SessionID        string // resumable handle; empty when unsupported
	Model            string
	UsedFallbackTier bool
}

// Caller is the capability a backend exposes to the engine.
type Caller interface {
	ID() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Batch carries per-batch state across engine operations. The fallback
// tier flag is sticky: once a backend downshifts inside a batch, later
// calls in the same batch prefer the degraded tier directly.
type Batch struct {
	ID                 string
	PreferFallbackTier bool
}

// CallLog records one engine operation for the caller's audit trail.
type CallLog struct {
	ID               string
	Provider         string
	Model            string
	Attempts         int
	LatencyMs        int64
	Output           string
	UsedFallbackTier bool
}

// Options tunes the engine.
type Options struct {
	MaxAttempts    int
	RetryBaseDelay time.Duration

	Categories   []string
	IdleCategory string

	// Prompt overrides; empty strings use the built-in templates.
	CardsPrompt      string
	TranscribePrompt string
	MergePrompt      string

	// MergeConfidence rejects merge decisions below this score when the
	// backend emits one. Zero disables thresholding.
	MergeConfidence float64
}

func (o *Options) fillDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if len(o.Categories) == 0 {
		o.Categories = []string{"Work", "Personal", "Idle"}
		o.IdleCategory = "Idle"
	}
}

// Engine runs generation, transcription, and merging against one Caller.
type Engine struct {
	caller Caller
	opts   Options
}

func New(caller Caller, opts Options) *Engine {
	opts.fillDefaults()
	return &Engine{caller: caller, opts: opts}
}

// GenerateCards produces a validated card set from a batch of
// observations plus the existing draft cards overlapping the window.
// Up to MaxAttempts tries; validation failures get corrective prompts,
// parse failures restart fresh, and after the budget is exhausted the
// last error surfaces with no partial results.
func (e *Engine) GenerateCards(ctx context.Context, batch *Batch, obs []timeline.Observation, existing []timeline.ActivityCard) ([]timeline.ActivityCard, *CallLog, error) {
	original := buildCardsPrompt(e.opts.CardsPrompt, obs, existing, e.opts.Categories)

	clog := e.newCallLog()
	prompt := original
	sessionID := ""
	var lastErr error

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if err := e.backoff(ctx, attempt); err != nil {
			return nil, clog, err
		}
		clog.Attempts = attempt

		resp, err := e.call(ctx, clog, batch, Request{Prompt: prompt, SessionID: sessionID})
		if err != nil {
			var unavailable *fault.ProviderUnavailableError
			if errors.As(err, &unavailable) {
				return nil, clog, err
			}
			lastErr = err
			prompt, sessionID = original, ""
			continue
		}

		var cards []timeline.ActivityCard
		if err := decodeArray(resp.Text, "cards", &cards); err != nil {
			// Session continuation rarely repairs garbled structure;
			// always restart fresh after a parse failure.
			lastErr = err
			prompt, sessionID = original, ""
			continue
		}

		for i := range cards {
			cards[i].Category = normalizeCategory(cards[i].Category, e.opts.Categories, e.opts.IdleCategory)
		}

		if err := e.checkCards(existing, cards); err != nil {
			var invalid *fault.ValidationError
			if !errors.As(err, &invalid) {
				return nil, clog, err
			}
			lastErr = err
			if resp.SessionID != "" {
				sessionID = resp.SessionID
				prompt = buildCorrection(original, invalid.Detail, false)
			} else {
				sessionID = ""
				prompt = buildCorrection(original, invalid.Detail, true)
			}
			continue
		}

		return cards, clog, nil
	}

	return nil, clog, fmt.Errorf("engine: card generation failed after %d attempts: %w", e.opts.MaxAttempts, lastErr)
}

func (e *Engine) checkCards(existing, cards []timeline.ActivityCard) error {
	if len(cards) == 0 {
		return &fault.ValidationError{Detail: "response contained zero cards"}
	}
	if err := validateCoverage(existing, cards); err != nil {
		return err
	}
	return validateDurations(cards)
}

// Transcribe turns one recording chunk's screenshots into observations.
// The segmentation invariant (2-5 spans, 80% coverage, aligned edges) is
// enforced the same way card invariants are, with corrective retries.
func (e *Engine) Transcribe(ctx context.Context, batch *Batch, shots []timeline.Screenshot, batchStart time.Time) ([]timeline.Observation, *CallLog, error) {
	if len(shots) == 0 {
		return nil, nil, fmt.Errorf("engine: no screenshots to transcribe")
	}

	original := buildTranscribePrompt(e.opts.TranscribePrompt, batchStart, shots)
	paths := make([]string, len(shots))
	for i, s := range shots {
		paths[i] = s.Path
	}
	chunkSeconds := float64(shots[len(shots)-1].CapturedTs - batchStart.Unix())

	clog := e.newCallLog()
	prompt := original
	sessionID := ""
	var lastErr error

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if err := e.backoff(ctx, attempt); err != nil {
			return nil, clog, err
		}
		clog.Attempts = attempt

		resp, err := e.call(ctx, clog, batch, Request{Prompt: prompt, SessionID: sessionID, Attachments: paths})
		if err != nil {
			var unavailable *fault.ProviderUnavailableError
			if errors.As(err, &unavailable) {
				return nil, clog, err
			}
			lastErr = err
			prompt, sessionID = original, ""
			continue
		}

		var obs []timeline.Observation
		if err := decodeArray(resp.Text, "observations", &obs); err != nil {
			lastErr = err
			prompt, sessionID = original, ""
			continue
		}

		if err := checkSegments(obs, batchStart.Unix(), chunkSeconds); err != nil {
			lastErr = err
			if resp.SessionID != "" {
				sessionID = resp.SessionID
				prompt = buildCorrection(original, err.Error(), false)
			} else {
				sessionID = ""
				prompt = buildCorrection(original, err.Error(), true)
			}
			continue
		}

		for i := range obs {
			obs[i].BatchID = batch.ID
			obs[i].LLMModel = resp.Model
			obs[i].CreatedAtTs = time.Now().Unix()
		}
		return obs, clog, nil
	}

	return nil, clog, fmt.Errorf("engine: transcription failed after %d attempts: %w", e.opts.MaxAttempts, lastErr)
}

func checkSegments(obs []timeline.Observation, startTs int64, chunkSeconds float64) error {
	segs := make([]timeline.TimeRange, len(obs))
	for i, o := range obs {
		if o.EndTs <= o.StartTs {
			return &fault.ValidationError{Detail: fmt.Sprintf("observation %d ends at or before its start", i)}
		}
		segs[i] = timeline.TimeRange{
			Start: float64(o.StartTs - startTs),
			End:   float64(o.EndTs - startTs),
		}
	}
	if err := timeline.ValidateSegments(segs, chunkSeconds); err != nil {
		return &fault.ValidationError{Detail: err.Error()}
	}
	return nil
}

// GenerateText is the plain completion surface, no validation loop.
func (e *Engine) GenerateText(ctx context.Context, prompt string) (string, *CallLog, error) {
	clog := e.newCallLog()
	clog.Attempts = 1
	resp, err := e.call(ctx, clog, nil, Request{Prompt: prompt})
	if err != nil {
		return "", clog, err
	}
	return resp.Text, clog, nil
}

// call runs one backend completion and keeps the call log and sticky
// tier state current.
func (e *Engine) call(ctx context.Context, clog *CallLog, batch *Batch, req Request) (*Response, error) {
	if batch != nil && batch.PreferFallbackTier {
		req.PreferFallbackTier = true
	}

	started := time.Now()
	resp, err := e.caller.Complete(ctx, req)
	clog.LatencyMs = time.Since(started).Milliseconds()
	if err != nil {
		return nil, err
	}

	clog.Model = resp.Model
	clog.Output = clip(resp.Text, 2000)
	if resp.UsedFallbackTier {
		clog.UsedFallbackTier = true
		if batch != nil && !batch.PreferFallbackTier {
			log.Printf("engine: %s downshifted model tier for batch %s", e.caller.ID(), batch.ID)
			batch.PreferFallbackTier = true
		}
	}
	return resp, nil
}

func (e *Engine) backoff(ctx context.Context, attempt int) error {
	if attempt <= 1 {
		return nil
	}
	delay := time.Duration(float64(e.opts.RetryBaseDelay) * math.Pow(2, float64(attempt-2)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func (e *Engine) newCallLog() *CallLog {
	return &CallLog{ID: "call-" + uuid.NewString()[:8], Provider: e.caller.ID()}
}
