// Package analytics carries named observability events with property
// maps. The pipeline and the provider orchestrator report through a Sink;
// the daemon wires a JSONL event log, tests wire a Recorder.
package analytics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one named analytics record.
type Event struct {
	EventID     string         `json:"event_id"`
	TimestampMs int64          `json:"ts_ms"`
	Name        string         `json:"name"`
	Props       map[string]any `json:"props,omitempty"`
}

// Event names emitted by the core.
const (
	EventFallbackAttempt = "provider_fallback_attempt"
	EventFallbackSuccess = "provider_fallback_success"
	EventFallbackFailure = "provider_fallback_failure"
	EventTierDownshift   = "model_tier_downshift"
	EventCardsGenerated  = "cards_generated"
	EventCardsMerged     = "cards_merged"
	EventBatchFailed     = "batch_failed"
	EventRateLimitAdvice = "rate_limit_advice"
)

// Sink accepts named events with property maps.
type Sink interface {
	Track(name string, props map[string]any)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Track(string, map[string]any) {}

// Recorder keeps events in memory for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Track(name string, props map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, newEvent(name, props))
}

// Events returns a copy of everything tracked so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the tracked events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// EventLog appends events to a JSONL file.
type EventLog struct {
	path string
	mu   sync.Mutex
}

func NewEventLog(logDir string) *EventLog {
	return &EventLog{path: filepath.Join(logDir, "events.jsonl")}
}

func (l *EventLog) Track(name string, props map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()

	payload, err := json.Marshal(newEvent(name, props))
	if err != nil {
		return
	}
	_, _ = file.Write(append(payload, '\n'))
}

func newEvent(name string, props map[string]any) Event {
	return Event{
		EventID:     "evt-" + uuid.NewString()[:8],
		TimestampMs: time.Now().UnixMilli(),
		Name:        name,
		Props:       props,
	}
}
