package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/norm/timeline-daemon/internal/timeline"
)

func card(start, end, title string) timeline.ActivityCard {
	return timeline.ActivityCard{StartTime: start, EndTime: end, Category: "Work", Title: title, Summary: "s"}
}

func TestMergePrefilterLongPreviousSkipsModelCall(t *testing.T) {
	caller := &fakeCaller{}
	e := testEngine(caller)

	running := []timeline.ActivityCard{card("9:00 AM", "9:42 AM", "Long block")}
	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, running, card("9:42 AM", "9:50 AM", "Tail"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(caller.calls) != 0 {
		t.Errorf("model calls = %d, want 0 (pre-filter)", len(caller.calls))
	}
	if len(out) != 2 || out[1].Title != "Tail" {
		t.Errorf("out = %+v", out)
	}
}

func TestMergePrefilterWideGapSkips(t *testing.T) {
	caller := &fakeCaller{}
	e := testEngine(caller)

	running := []timeline.ActivityCard{card("9:00 AM", "9:20 AM", "Before")}
	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, running, card("9:30 AM", "9:45 AM", "After"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(caller.calls) != 0 {
		t.Errorf("model calls = %d, want 0", len(caller.calls))
	}
	if len(out) != 2 {
		t.Errorf("out = %+v", out)
	}
}

func TestMergePrefilterCombinedSpanSkips(t *testing.T) {
	caller := &fakeCaller{}
	e := testEngine(caller)

	running := []timeline.ActivityCard{card("9:00 AM", "9:35 AM", "Before")}
	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, running, card("9:36 AM", "10:10 AM", "After"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(caller.calls) != 0 {
		t.Errorf("model calls = %d, want 0", len(caller.calls))
	}
	if len(out) != 2 {
		t.Errorf("out = %+v", out)
	}
}

func TestMergeAcceptedSynthesizesCombinedCard(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResp{
		{text: `{"combine": true, "confidence": 0.95, "reason": "same task"}`},
		{text: `{"title": "Refactoring the parser", "summary": "both halves", "detailedSummary": "d"}`},
	}}
	e := New(caller, Options{
		RetryBaseDelay:  1,
		Categories:      []string{"Work"},
		MergeConfidence: 0.85,
	})

	running := []timeline.ActivityCard{card("9:00 AM", "9:20 AM", "Parser work")}
	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, running, card("9:20 AM", "9:35 AM", "More parser work"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("out = %+v, want single merged card", out)
	}
	merged := out[0]
	if merged.Title != "Refactoring the parser" {
		t.Errorf("title = %q", merged.Title)
	}
	// Times come from the originals, never from generated text.
	if merged.StartTime != "9:00 AM" || merged.EndTime != "9:35 AM" {
		t.Errorf("merged span = %s-%s", merged.StartTime, merged.EndTime)
	}
	if len(caller.calls) != 2 {
		t.Errorf("model calls = %d, want decision + synthesis", len(caller.calls))
	}
}

func TestMergeRejectedByDecision(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResp{
		{text: `{"combine": false, "reason": "different tasks"}`},
	}}
	e := testEngine(caller)

	running := []timeline.ActivityCard{card("9:00 AM", "9:20 AM", "A")}
	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, running, card("9:20 AM", "9:35 AM", "B"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("out = %+v, want standalone append", out)
	}
	if len(caller.calls) != 1 {
		t.Errorf("model calls = %d, want decision only", len(caller.calls))
	}
}

func TestMergeLowConfidenceBelowThreshold(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResp{
		{text: `{"combine": true, "confidence": 0.5, "reason": "maybe"}`},
	}}
	e := New(caller, Options{RetryBaseDelay: 1, Categories: []string{"Work"}, MergeConfidence: 0.85})

	running := []timeline.ActivityCard{card("9:00 AM", "9:20 AM", "A")}
	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, running, card("9:20 AM", "9:35 AM", "B"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("out = %+v, want standalone append", out)
	}
}

func TestMergeWithoutScoreIgnoresThreshold(t *testing.T) {
	// Backends that emit no confidence are not thresholded.
	caller := &fakeCaller{responses: []fakeResp{
		{text: `{"combine": true, "reason": "clearly the same"}`},
		{text: `{"title": "One activity", "summary": "s"}`},
	}}
	e := New(caller, Options{RetryBaseDelay: 1, Categories: []string{"Work"}, MergeConfidence: 0.85})

	running := []timeline.ActivityCard{card("9:00 AM", "9:20 AM", "A")}
	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, running, card("9:20 AM", "9:35 AM", "B"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("out = %+v, want merged", out)
	}
}

func TestMergeDecisionFailureAppendsStandalone(t *testing.T) {
	caller := &fakeCaller{responses: []fakeResp{
		{err: errors.New("backend down")},
	}}
	e := testEngine(caller)

	running := []timeline.ActivityCard{card("9:00 AM", "9:20 AM", "A")}
	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, running, card("9:20 AM", "9:35 AM", "B"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("out = %+v, want standalone append", out)
	}
}

func TestMergeEmptyRunningAppends(t *testing.T) {
	caller := &fakeCaller{}
	e := testEngine(caller)

	out, err := e.MergeInto(context.Background(), &Batch{ID: "b"}, nil, card("9:00 AM", "9:20 AM", "First"))
	if err != nil {
		t.Fatalf("MergeInto: %v", err)
	}
	if len(out) != 1 || len(caller.calls) != 0 {
		t.Errorf("out = %+v calls = %d", out, len(caller.calls))
	}
}

func TestParseMergeDecision(t *testing.T) {
	d, err := parseMergeDecision("Decision: {\"combine\": true, \"confidence\": 0.9, \"reason\": \"r\"}")
	if err != nil {
		t.Fatalf("parseMergeDecision: %v", err)
	}
	if !d.Combine || !d.HasScore || d.Confidence != 0.9 {
		t.Errorf("decision = %+v", d)
	}

	d, err = parseMergeDecision(`{"combine": false}`)
	if err != nil {
		t.Fatalf("parseMergeDecision: %v", err)
	}
	if d.Combine || d.HasScore {
		t.Errorf("decision = %+v", d)
	}

	if _, err := parseMergeDecision("nothing useful"); err == nil {
		t.Error("expected parse error")
	}
}
