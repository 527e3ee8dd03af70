package agentstream

import (
	"errors"
	"testing"

	"github.com/norm/timeline-daemon/internal/shellexec"
)

func decodeAll(t *testing.T, dec *Decoder, lines []string) []Event {
	t.Helper()
	var events []Event
	for _, line := range lines {
		if ev, ok := dec.Decode(line); ok {
			events = append(events, ev)
		}
	}
	if ev, ok := dec.Finish(); ok {
		events = append(events, ev)
	}
	return events
}

func TestDecodeItemTypeSchema(t *testing.T) {
	lines := []string{
		`{"type":"thread.started","thread_id":"th_123"}`,
		`{"type":"item.completed","item":{"type":"reasoning","text":"planning the answer"}}`,
		`{"type":"item.started","item":{"type":"command_execution","command":"ls -la"}}`,
		`{"type":"item.completed","item":{"type":"command_execution","command":"ls -la","aggregated_output":"total 0","exit_code":0}}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"[{\"a\":1}]"}}`,
	}

	var dec Decoder
	events := decodeAll(t, &dec, lines)

	wantTypes := []EventType{EventSessionStarted, EventThinking, EventToolStart, EventToolEnd, EventTextDelta, EventComplete}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events (%v), want %d", len(events), events, len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}

	if events[0].SessionID != "th_123" {
		t.Errorf("session id = %q, want th_123", events[0].SessionID)
	}
	if events[3].ExitCode != 0 || events[3].Output != "total 0" {
		t.Errorf("tool end = %+v", events[3])
	}
	// Synthesized complete carries the concatenated deltas.
	if events[5].Text != `[{"a":1}]` {
		t.Errorf("complete text = %q, want the delta text", events[5].Text)
	}
}

func TestDecodeStreamEventSchema(t *testing.T) {
	lines := []string{
		`{"type":"system","subtype":"init","session_id":"sess-9"}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"hmm"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"[1,"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"2]"}}}`,
		`{"type":"result","result":"something else entirely"}`,
	}

	var dec Decoder
	events := decodeAll(t, &dec, lines)

	wantTypes := []EventType{EventSessionStarted, EventThinking, EventTextDelta, EventTextDelta, EventComplete}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events (%v), want %d", len(events), events, len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}

	// Deltas were observed, so the result's embedded text must not win.
	if got := events[4].Text; got != "[1,2]" {
		t.Errorf("complete text = %q, want accumulated deltas", got)
	}
}

func TestDecodeResultAuthoritativeWithoutDeltas(t *testing.T) {
	var dec Decoder
	ev, ok := dec.Decode(`{"type":"result","result":"[1,2,3]"}`)
	if !ok || ev.Type != EventComplete {
		t.Fatalf("event = %+v ok=%v, want complete", ev, ok)
	}
	if ev.Text != "[1,2,3]" {
		t.Errorf("complete text = %q, want result text", ev.Text)
	}
	if _, ok := dec.Finish(); ok {
		t.Error("Finish synthesized a second terminal event")
	}
}

func TestDecodeErrorResult(t *testing.T) {
	var dec Decoder
	ev, ok := dec.Decode(`{"type":"result","is_error":true,"result":"credit balance too low"}`)
	if !ok || ev.Type != EventError {
		t.Fatalf("event = %+v ok=%v, want error", ev, ok)
	}
	if ev.Text != "credit balance too low" {
		t.Errorf("error text = %q", ev.Text)
	}
}

func TestDecodeDropsUnrecognizedLines(t *testing.T) {
	lines := []string{
		"",
		"not json at all",
		`{"type":"totally_new_event","payload":42}`,
		`{"missing":"type"}`,
		`{"type":"item.started","item":{"type":"web_search"}}`,
	}
	var dec Decoder
	for _, line := range lines {
		if ev, ok := dec.Decode(line); ok {
			t.Errorf("line %q decoded to %+v, want dropped", line, ev)
		}
	}
}

func TestFinishWithoutDeltasSynthesizesNothing(t *testing.T) {
	var dec Decoder
	dec.Decode(`{"type":"item.completed","item":{"type":"reasoning","text":"thinking only"}}`)
	if ev, ok := dec.Finish(); ok {
		t.Errorf("Finish = %+v, want no synthesized terminal", ev)
	}
}

func TestEventsTurnsChunkErrorIntoTerminalEvent(t *testing.T) {
	chunks := make(chan shellexec.Chunk, 4)
	chunks <- shellexec.Chunk{Line: `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}}`}
	chunks <- shellexec.Chunk{Err: errors.New("claude timed out after 150s")}
	close(chunks)

	var events []Event
	for ev := range Events(chunks) {
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("events = %v, want delta then error", events)
	}
	if events[1].Type != EventError {
		t.Errorf("terminal type = %s, want error", events[1].Type)
	}
	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want exactly 1", terminals)
	}
}

func TestEventsSynthesizesCompleteOnEOF(t *testing.T) {
	chunks := make(chan shellexec.Chunk, 2)
	chunks <- shellexec.Chunk{Line: `{"type":"item.completed","item":{"type":"agent_message","text":"done"}}`}
	close(chunks)

	var last Event
	count := 0
	for ev := range Events(chunks) {
		last = ev
		count++
	}
	if count != 2 {
		t.Fatalf("event count = %d, want delta + synthesized complete", count)
	}
	if last.Type != EventComplete || last.Text != "done" {
		t.Errorf("terminal = %+v, want complete %q", last, "done")
	}
}
