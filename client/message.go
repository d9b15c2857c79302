// ABOUTME: Client-side message model and the assembler that reduces protocol events into it.
// ABOUTME: Pairs two stream buffers with the phase machine so thinking and answer text never merge.

package client

import (
	"github.com/fluxchat/fluxchat/protocol"
)

// DisplayState is the rendering state of a message.
type DisplayState string

const (
	DisplayWaiting   DisplayState = "waiting"
	DisplayStreaming DisplayState = "streaming"
	DisplayIdle      DisplayState = "idle"
	DisplayError     DisplayState = "error"
)

// ToolInvocation is the client-side view of one tool call. The message
// owns its invocations.
type ToolInvocation struct {
	ID       string
	Name     string
	Query    string
	Prompt   string
	State    string // running, completed, failed
	Success  *bool
	Progress int
	Fields   map[string]any
}

// Message is the client-side message state reconstructed from the event
// stream.
type Message struct {
	ID           string
	Role         string
	Content      string
	Thinking     string
	ToolCalls    []ToolInvocation
	DisplayState DisplayState
	ErrorText    string
}

// Assembler rebuilds one assistant message from protocol events. Incoming
// text flows through two independent stream buffers (thinking, answer) so
// many small deltas coalesce into one update per scheduled flush; tool and
// terminal events update the message directly.
type Assembler struct {
	msg      Message
	phase    *PhaseMachine
	thinking *StreamBuffer
	answer   *StreamBuffer
	onUpdate func(Message)
}

// NewAssembler creates an Assembler for the message. onUpdate fires after
// every applied state change with a snapshot of the message.
func NewAssembler(messageID string, schedule Scheduler, onUpdate func(Message)) *Assembler {
	a := &Assembler{
		msg: Message{
			ID:           messageID,
			Role:         "assistant",
			DisplayState: DisplayWaiting,
		},
		phase:    NewPhaseMachine(messageID),
		onUpdate: onUpdate,
	}
	a.thinking = NewStreamBuffer(schedule, func(chunk string) {
		a.msg.Thinking += chunk
		a.notify()
	})
	a.answer = NewStreamBuffer(schedule, func(chunk string) {
		a.msg.Content += chunk
		a.notify()
	})
	return a
}

// Message returns the current message snapshot.
func (a *Assembler) Message() Message {
	return a.msg
}

// Phase returns the current generation phase.
func (a *Assembler) Phase() Phase {
	return a.phase.Phase()
}

// Apply reduces one protocol event into the message state.
func (a *Assembler) Apply(ev protocol.Event) {
	switch ev.Type {
	// Phase tracking and text accumulation are independent: a rejected
	// transition leaves the phase unchanged, but the delta still lands in
	// the transcript. Round-2 reasoning arrives while the phase is
	// answering or tool_calling and must not be lost.
	case protocol.EventThinking:
		a.phase.Transition(PhaseThinking)
		a.msg.DisplayState = DisplayStreaming
		a.thinking.Append(ev.Content)

	case protocol.EventAnswer:
		a.phase.Transition(PhaseAnswering)
		a.msg.DisplayState = DisplayStreaming
		a.answer.Append(ev.Content)

	case protocol.EventToolCall:
		if a.phase.Transition(PhaseToolCalling) {
			a.msg.ToolCalls = append(a.msg.ToolCalls, ToolInvocation{
				ID:     ev.ToolCallID,
				Name:   ev.Name,
				Query:  extraString(ev, "query"),
				Prompt: extraString(ev, "prompt"),
				State:  "running",
			})
			a.notify()
		}

	case protocol.EventToolProgress:
		if inv := a.findInvocation(ev.ToolCallID); inv != nil && ev.Progress != nil {
			inv.Progress = *ev.Progress
			a.notify()
		}

	case protocol.EventToolResult:
		if inv := a.findInvocation(ev.ToolCallID); inv != nil {
			inv.Success = ev.Success
			inv.Fields = ev.Extra
			if ev.Success != nil && *ev.Success {
				inv.State = "completed"
				inv.Progress = 100
			} else {
				inv.State = "failed"
			}
			a.notify()
		}

	case protocol.EventComplete:
		a.Finish()
		a.phase.Complete()
		a.msg.DisplayState = DisplayIdle
		a.notify()

	case protocol.EventError:
		a.Finish()
		a.phase.Fail()
		a.msg.DisplayState = DisplayError
		a.msg.ErrorText = ev.Message
		a.notify()
	}
}

// Finish force-flushes both buffers so no trailing characters are lost
// when the stream ends or aborts.
func (a *Assembler) Finish() {
	a.thinking.ForceFlush()
	a.answer.ForceFlush()
}

func (a *Assembler) findInvocation(id string) *ToolInvocation {
	for i := range a.msg.ToolCalls {
		if a.msg.ToolCalls[i].ID == id {
			return &a.msg.ToolCalls[i]
		}
	}
	return nil
}

func (a *Assembler) notify() {
	if a.onUpdate != nil {
		a.onUpdate(a.msg)
	}
}

func extraString(ev protocol.Event, key string) string {
	if v, ok := ev.Extra[key].(string); ok {
		return v
	}
	return ""
}
