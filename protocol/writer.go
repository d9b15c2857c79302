// ABOUTME: Per-session protocol encoder that serializes events onto a text event stream.
// ABOUTME: Owns session identity and idempotent terminal semantics; after Close or Error all sends are no-ops.

package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
)

// Writer encodes protocol events for one generation session. All methods
// are safe for concurrent use; tool executions report progress from their
// own goroutines.
type Writer struct {
	mu        sync.Mutex
	w         io.Writer
	flush     func()
	sessionID string
	terminal  bool
}

// NewWriter creates a Writer for the given session. If w implements
// http.Flusher each event is flushed to the transport as it is written.
func NewWriter(w io.Writer, sessionID string) *Writer {
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	return &Writer{w: w, flush: flush, sessionID: sessionID}
}

// SessionID returns the session this writer belongs to.
func (wr *Writer) SessionID() string {
	return wr.sessionID
}

// SendThinking emits a thinking delta.
func (wr *Writer) SendThinking(content string) {
	wr.send(Event{Type: EventThinking, SessionID: wr.sessionID, Content: content})
}

// SendAnswer emits an answer delta.
func (wr *Writer) SendAnswer(content string) {
	wr.send(Event{Type: EventAnswer, SessionID: wr.sessionID, Content: content})
}

// SendToolCall announces a tool invocation. extra carries the argument echo
// shown to the client (query for searches, prompt for image generation).
func (wr *Writer) SendToolCall(toolCallID, name string, extra map[string]any) {
	wr.send(Event{
		Type:       EventToolCall,
		SessionID:  wr.sessionID,
		ToolCallID: toolCallID,
		Name:       name,
		Extra:      extra,
	})
}

// SendToolProgress reports slow-tool progress as a 0-100 percentage.
func (wr *Writer) SendToolProgress(toolCallID string, progress int) {
	wr.send(Event{Type: EventToolProgress, ToolCallID: toolCallID, Progress: &progress})
}

// SendToolResult reports a finished tool invocation. fields carries the
// result payload (imageUrl, sources, resultCount, ...).
func (wr *Writer) SendToolResult(toolCallID, name string, success bool, fields map[string]any) {
	wr.send(Event{
		Type:       EventToolResult,
		SessionID:  wr.sessionID,
		ToolCallID: toolCallID,
		Name:       name,
		Success:    &success,
		Extra:      fields,
	})
}

// SendComplete emits the complete event followed by the stream-complete
// sentinel, then seals the writer. The sentinel is what lets a client
// distinguish a finished stream from a transport-level truncation.
func (wr *Writer) SendComplete() {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.terminal {
		return
	}

	wr.writeLocked(Event{Type: EventComplete, SessionID: wr.sessionID})
	fmt.Fprintf(wr.w, "data: %s\n\n", "[DONE]")
	wr.flush()
	wr.terminal = true
}

// Error emits a terminal error event and seals the writer.
func (wr *Writer) Error(message string) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.terminal {
		return
	}

	wr.writeLocked(Event{Type: EventError, SessionID: wr.sessionID, Message: message})
	wr.flush()
	wr.terminal = true
}

// Close seals the writer without emitting anything further. Used when the
// client disconnects mid-stream.
func (wr *Writer) Close() {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.terminal = true
}

// Terminal reports whether the writer has been sealed.
func (wr *Writer) Terminal() bool {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.terminal
}

// send validates and writes one non-terminal event.
func (wr *Writer) send(ev Event) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.terminal {
		return
	}
	wr.writeLocked(ev)
	wr.flush()
}

// writeLocked validates and encodes one event. Malformed events are logged
// and dropped so an internal bug cannot corrupt the wire stream.
func (wr *Writer) writeLocked(ev Event) {
	if err := ev.Validate(); err != nil {
		log.Printf("component=protocol action=drop_invalid_event session=%s err=%v", wr.sessionID, err)
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("component=protocol action=encode_failed session=%s err=%v", wr.sessionID, err)
		return
	}
	fmt.Fprintf(wr.w, "data: %s\n\n", data)
}
