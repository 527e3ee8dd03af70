// Package agentstream normalizes the line-delimited JSON emitted by
// agent CLI tools into one tagged event vocabulary. Two schemas are
// understood: an item-type schema (thread.started / item.started /
// item.completed envelopes) and a stream-event schema (nested delta
// types plus a top-level result). Unrecognized lines are dropped so new
// upstream event kinds never break decoding.
package agentstream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// EventType tags a decoded stream event.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventThinking       EventType = "thinking"
	EventToolStart      EventType = "tool_start"
	EventToolEnd        EventType = "tool_end"
	EventTextDelta      EventType = "text_delta"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Event is one decoded subprocess event.
type Event struct {
	Type      EventType
	SessionID string // session_started
	Text      string // thinking, text_delta, complete, error
	Command   string // tool_start, tool_end
	Output    string // tool_end
	ExitCode  int    // tool_end
}

// Terminal reports whether the event closes a stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Decoder accumulates delta text across a stream and applies the
// de-duplication rule: once any text delta has been seen, a complete
// event's embedded text is ignored in favor of the accumulated deltas.
// One Decoder serves exactly one stream.
type Decoder struct {
	deltas   strings.Builder
	sawDelta bool
	terminal bool
}

// Decode maps one stripped output line to an event. The second return is
// false for blank, non-JSON, and unrecognized lines.
func (d *Decoder) Decode(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
		return Event{}, false
	}

	root := gjson.Parse(line)
	switch root.Get("type").String() {
	// Schema A: item-type envelopes.
	case "thread.started":
		return Event{Type: EventSessionStarted, SessionID: root.Get("thread_id").String()}, true
	case "item.started":
		item := root.Get("item")
		if item.Get("type").String() == "command_execution" {
			return Event{Type: EventToolStart, Command: item.Get("command").String()}, true
		}
	case "item.completed":
		item := root.Get("item")
		switch item.Get("type").String() {
		case "reasoning":
			return Event{Type: EventThinking, Text: item.Get("text").String()}, true
		case "command_execution":
			return Event{
				Type:     EventToolEnd,
				Command:  item.Get("command").String(),
				Output:   item.Get("aggregated_output").String(),
				ExitCode: int(item.Get("exit_code").Int()),
			}, true
		case "agent_message":
			text := item.Get("text").String()
			d.sawDelta = true
			d.deltas.WriteString(text)
			return Event{Type: EventTextDelta, Text: text}, true
		}

	// Schema B: stream-event envelopes.
	case "system":
		if id := root.Get("session_id").String(); id != "" {
			return Event{Type: EventSessionStarted, SessionID: id}, true
		}
	case "stream_event":
		delta := root.Get("event.delta")
		switch delta.Get("type").String() {
		case "thinking_delta":
			return Event{Type: EventThinking, Text: delta.Get("thinking").String()}, true
		case "text_delta":
			text := delta.Get("text").String()
			d.sawDelta = true
			d.deltas.WriteString(text)
			return Event{Type: EventTextDelta, Text: text}, true
		}
	case "result":
		d.terminal = true
		if root.Get("is_error").Bool() {
			return Event{Type: EventError, Text: root.Get("result").String()}, true
		}
		text := root.Get("result").String()
		if d.sawDelta {
			text = d.deltas.String()
		}
		return Event{Type: EventComplete, Text: text}, true
	}

	return Event{}, false
}

// Finish closes the stream. If delta text accumulated but no terminal
// event arrived, a complete event carrying the accumulated text is
// synthesized so every finished non-timeout stream yields exactly one
// terminal event.
func (d *Decoder) Finish() (Event, bool) {
	if d.terminal {
		return Event{}, false
	}
	if d.sawDelta && d.deltas.Len() > 0 {
		d.terminal = true
		return Event{Type: EventComplete, Text: d.deltas.String()}, true
	}
	return Event{}, false
}

// Text returns the accumulated delta text so far.
func (d *Decoder) Text() string { return d.deltas.String() }
