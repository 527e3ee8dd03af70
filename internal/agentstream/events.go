package agentstream

import (
	"github.com/norm/timeline-daemon/internal/shellexec"
)

// Events decodes a runtime chunk stream into events. Runtime failures
// (timeout, missing tool) become the single terminal error event; after a
// terminal event nothing further is sent and the channel closes.
func Events(chunks <-chan shellexec.Chunk) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		var dec Decoder
		for chunk := range chunks {
			if chunk.Err != nil {
				out <- Event{Type: EventError, Text: chunk.Err.Error()}
				return
			}
			ev, ok := dec.Decode(chunk.Line)
			if !ok {
				continue
			}
			out <- ev
			if ev.Terminal() {
				return
			}
		}
		if ev, ok := dec.Finish(); ok {
			out <- ev
		}
	}()
	return out
}
