// ABOUTME: Bubble Tea message types used in the chat TUI message loop.
// ABOUTME: Each type wraps a stream lifecycle step for the tea.Msg interface.
package main

import (
	"time"

	"github.com/fluxchat/fluxchat/protocol"
)

// streamStartedMsg signals that a generation stream opened successfully.
type streamStartedMsg struct {
	handle *StreamHandle
}

// streamEventMsg wraps one protocol event from the open stream.
type streamEventMsg struct {
	event protocol.Event
}

// streamDoneMsg signals that the stream ended. truncated is true when the
// transport dropped before the completion sentinel.
type streamDoneMsg struct {
	truncated bool
	err       error
}

// streamErrMsg signals that a stream failed to open.
type streamErrMsg struct {
	err error
}

// flushFrameMsg drives the coalescing flush of buffered text deltas.
type flushFrameMsg struct{}

// tickMsg advances the spinner while a generation is running.
type tickMsg struct {
	time time.Time
}
