package agentstream

import (
	"errors"
	"fmt"

	"github.com/norm/timeline-daemon/internal/shellexec"
)

// Result is what a fully consumed stream produced.
type Result struct {
	Text      string
	SessionID string
}

// Collect drains an event stream and returns the terminal text plus the
// session id, if the tool announced one. An error terminal event or a
// stream that never terminates cleanly becomes an error.
func Collect(events <-chan Event) (*Result, error) {
	res := &Result{}
	sawTerminal := false
	for ev := range events {
		switch ev.Type {
		case EventSessionStarted:
			res.SessionID = ev.SessionID
		case EventComplete:
			res.Text = ev.Text
			sawTerminal = true
		case EventError:
			return nil, fmt.Errorf("agentstream: %s", ev.Text)
		}
	}
	if !sawTerminal {
		return nil, errors.New("agentstream: stream ended without a terminal event")
	}
	return res, nil
}

// CollectChunks decodes and drains a raw runtime stream. Runtime
// failures keep their typed error (timeout, missing tool) instead of
// being flattened into event text.
func CollectChunks(chunks <-chan shellexec.Chunk) (*Result, error) {
	res := &Result{}
	var dec Decoder
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		ev, ok := dec.Decode(chunk.Line)
		if !ok {
			continue
		}
		switch ev.Type {
		case EventSessionStarted:
			res.SessionID = ev.SessionID
		case EventComplete:
			res.Text = ev.Text
			return res, nil
		case EventError:
			return nil, fmt.Errorf("agentstream: %s", ev.Text)
		}
	}
	if ev, ok := dec.Finish(); ok && ev.Type == EventComplete {
		res.Text = ev.Text
		return res, nil
	}
	return nil, errors.New("agentstream: stream ended without a terminal event")
}
