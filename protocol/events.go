// ABOUTME: Closed tagged union of client-facing protocol events with encode-boundary validation.
// ABOUTME: Defines the wire shape of thinking/answer/tool/terminal events and their required fields.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType discriminates the protocol event union. The set is closed:
// Validate rejects anything outside it before it can reach the wire.
type EventType string

const (
	EventThinking     EventType = "thinking"
	EventAnswer       EventType = "answer"
	EventToolCall     EventType = "tool_call"
	EventToolProgress EventType = "tool_progress"
	EventToolResult   EventType = "tool_result"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Validation errors returned for malformed internal events.
var (
	ErrUnknownEventType = errors.New("unknown protocol event type")
	ErrMissingSessionID = errors.New("protocol event missing session id")
	ErrMissingToolCall  = errors.New("protocol event missing tool call id")
)

// Event is one unit of the outbound wire protocol. Events are immutable
// once emitted; ordering within a session is wire order.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId,omitempty"`
	Content    string    `json:"content,omitempty"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	Name       string    `json:"name,omitempty"`
	Progress   *int      `json:"progress,omitempty"`
	Success    *bool     `json:"success,omitempty"`
	Message    string    `json:"message,omitempty"`

	// Extra carries type-specific payload fields that are flattened into
	// the top-level JSON object (tool_call query/prompt echo, tool_result
	// fields such as imageUrl or sources).
	Extra map[string]any `json:"-"`
}

// Validate checks that the event is a well-formed member of the union.
// The encoder calls this before writing; a failure means an internal bug
// produced a malformed event, and the event is logged and dropped rather
// than sent.
func (e *Event) Validate() error {
	switch e.Type {
	case EventThinking, EventAnswer, EventComplete:
		if e.SessionID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingSessionID)
		}
	case EventToolCall:
		if e.SessionID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingSessionID)
		}
		if e.ToolCallID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingToolCall)
		}
		if e.Name == "" {
			return fmt.Errorf("tool_call event missing tool name")
		}
	case EventToolProgress:
		if e.ToolCallID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingToolCall)
		}
		// Pointer so progress 0 still serializes: the wire field is
		// present on every tool_progress event.
		if e.Progress == nil {
			return fmt.Errorf("tool_progress event missing progress value")
		}
		if *e.Progress < 0 || *e.Progress > 100 {
			return fmt.Errorf("tool_progress out of range: %d", *e.Progress)
		}
	case EventToolResult:
		if e.SessionID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingSessionID)
		}
		if e.ToolCallID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingToolCall)
		}
		if e.Success == nil {
			return fmt.Errorf("tool_result event missing success flag")
		}
	case EventError:
		if e.SessionID == "" {
			return fmt.Errorf("%s: %w", e.Type, ErrMissingSessionID)
		}
		if e.Message == "" {
			return fmt.Errorf("error event missing message")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	return nil
}

// MarshalJSON flattens Extra into the top-level object. Declared fields win
// over Extra on key collision.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	base, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]any, len(e.Extra)+8)
	for k, v := range e.Extra {
		merged[k] = v
	}
	var declared map[string]any
	if err := json.Unmarshal(base, &declared); err != nil {
		return nil, err
	}
	for k, v := range declared {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures undeclared fields into Extra so a decoded event
// round-trips the type-specific payload of tool results.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Event(p)

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"type", "sessionId", "content", "toolCallId", "name", "progress", "success", "message"} {
		delete(all, k)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}
