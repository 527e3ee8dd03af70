package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/norm/timeline-daemon/internal/fault"
	"github.com/norm/timeline-daemon/internal/shellexec"
	"github.com/norm/timeline-daemon/internal/timeline"
)

const (
	// mergeMaxPrevMinutes skips the model call when the previous card is
	// already this long.
	mergeMaxPrevMinutes = 40.0

	// mergeMaxGapMinutes skips the merge when the cards are this far apart.
	mergeMaxGapMinutes = 5.0

	// mergeMaxCombinedMinutes caps the span of a merged card.
	mergeMaxCombinedMinutes = 60.0
)

type mergeDecision struct {
	Combine    bool
	Confidence float64
	HasScore   bool
	Reason     string
}

// MergeInto folds newCard into the running card list, combining it with
// the most recent card when a model call decides both describe one
// activity. Cheap pre-filters avoid the model call for spans that could
// never merge. On any model failure the new card is appended standalone;
// merging is an optimization, never a gate.
func (e *Engine) MergeInto(ctx context.Context, batch *Batch, running []timeline.ActivityCard, newCard timeline.ActivityCard) ([]timeline.ActivityCard, error) {
	if len(running) == 0 {
		return append(running, newCard), nil
	}
	prev := running[len(running)-1]

	merge, reason := e.prefilter(prev, newCard)
	if !merge {
		log.Printf("engine: merge skipped (%s): %q + %q", reason, prev.Title, newCard.Title)
		return append(running, newCard), nil
	}

	decision, err := e.decideMerge(ctx, batch, prev, newCard)
	if err != nil {
		log.Printf("engine: merge decision failed, appending standalone: %v", err)
		return append(running, newCard), nil
	}
	log.Printf("engine: merge decision combine=%v confidence=%.2f reason=%q", decision.Combine, decision.Confidence, decision.Reason)

	if !decision.Combine {
		return append(running, newCard), nil
	}
	if e.opts.MergeConfidence > 0 && decision.HasScore && decision.Confidence < e.opts.MergeConfidence {
		return append(running, newCard), nil
	}

	merged, err := e.synthesizeMerge(ctx, batch, prev, newCard)
	if err != nil {
		log.Printf("engine: merge synthesis failed, appending standalone: %v", err)
		return append(running, newCard), nil
	}

	// Times come from the original cards, never reparsed from generated
	// text; reparsing corrupts spans across day boundaries.
	merged.StartTime = prev.StartTime
	merged.EndTime = newCard.EndTime

	minutes, err := timeline.CardMinutes(merged)
	if err != nil || minutes > mergeMaxCombinedMinutes {
		return append(running, newCard), nil
	}

	running[len(running)-1] = merged
	return running, nil
}

// prefilter returns whether a model call is worth making, and the skip
// reason when it is not.
func (e *Engine) prefilter(prev, next timeline.ActivityCard) (bool, string) {
	prevRange, err := timeline.CardRange(prev)
	if err != nil {
		return false, "previous card unparseable"
	}
	nextRange, err := timeline.CardRange(next)
	if err != nil {
		return false, "new card unparseable"
	}

	if prevRange.Duration() >= mergeMaxPrevMinutes {
		return false, fmt.Sprintf("previous card already %.0f min", prevRange.Duration())
	}
	if gap := nextRange.Start - prevRange.End; gap > mergeMaxGapMinutes {
		return false, fmt.Sprintf("%.0f min gap between cards", gap)
	}
	if combined := nextRange.End - prevRange.Start; combined > mergeMaxCombinedMinutes {
		return false, fmt.Sprintf("combined span would be %.0f min", combined)
	}
	return true, ""
}

func (e *Engine) decideMerge(ctx context.Context, batch *Batch, prev, next timeline.ActivityCard) (*mergeDecision, error) {
	req := Request{Prompt: buildMergeDecisionPrompt(e.opts.MergePrompt, prev, next)}
	if batch != nil && batch.PreferFallbackTier {
		req.PreferFallbackTier = true
	}
	resp, err := e.caller.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return parseMergeDecision(resp.Text)
}

func (e *Engine) synthesizeMerge(ctx context.Context, batch *Batch, prev, next timeline.ActivityCard) (timeline.ActivityCard, error) {
	req := Request{Prompt: buildMergeSynthesisPrompt(prev, next)}
	if batch != nil && batch.PreferFallbackTier {
		req.PreferFallbackTier = true
	}
	resp, err := e.caller.Complete(ctx, req)
	if err != nil {
		return timeline.ActivityCard{}, err
	}

	obj, ok := locateObject(resp.Text)
	if !ok {
		return timeline.ActivityCard{}, &fault.ParseError{Detail: "no merged-card object in response", Raw: clip(resp.Text, 300)}
	}
	merged := prev
	merged.Title = gjson.Get(obj, "title").String()
	merged.Summary = gjson.Get(obj, "summary").String()
	if detail := gjson.Get(obj, "detailedSummary").String(); detail != "" {
		merged.DetailedSummary = detail
	}
	if merged.Title == "" {
		return timeline.ActivityCard{}, &fault.ParseError{Detail: "merged card missing title", Raw: clip(obj, 300)}
	}
	merged.Distractions = append(append([]timeline.Distraction{}, prev.Distractions...), next.Distractions...)
	return merged, nil
}

func parseMergeDecision(raw string) (*mergeDecision, error) {
	obj, ok := locateObject(raw)
	if !ok {
		return nil, &fault.ParseError{Detail: "no decision object in response", Raw: clip(raw, 300)}
	}
	combine := gjson.Get(obj, "combine")
	if !combine.Exists() {
		return nil, &fault.ParseError{Detail: "decision object missing combine field", Raw: clip(obj, 300)}
	}
	d := &mergeDecision{
		Combine: combine.Bool(),
		Reason:  gjson.Get(obj, "reason").String(),
	}
	if score := gjson.Get(obj, "confidence"); score.Exists() {
		d.HasScore = true
		d.Confidence = score.Float()
	}
	return d, nil
}

// locateObject finds a JSON object in possibly prose-wrapped output.
func locateObject(raw string) (string, bool) {
	for _, s := range []string{raw, shellexec.StripEscapes(raw)} {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
			return trimmed, true
		}
		start := strings.IndexByte(s, '{')
		end := strings.LastIndexByte(s, '}')
		if start != -1 && end > start {
			candidate := s[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}
