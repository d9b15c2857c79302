// ABOUTME: Bridge between the chat stream and the Bubble Tea message loop.
// ABOUTME: Provides tea.Cmd factories for opening streams, reading events, frame flushes, and ticks.
package main

import (
	"context"
	"errors"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fluxchat/fluxchat/client"
)

// frameInterval paces text flushes to roughly one terminal repaint.
const frameInterval = 16 * time.Millisecond

// flushQueue collects flush callbacks scheduled by the stream buffers until
// the next frame. It is held by pointer so Bubble Tea's model copies share it.
type flushQueue struct {
	fns []func()
}

func (q *flushQueue) schedule(fn func()) {
	q.fns = append(q.fns, fn)
}

func (q *flushQueue) drain() {
	fns := q.fns
	q.fns = nil
	for _, fn := range fns {
		fn()
	}
}

func (q *flushQueue) pending() bool {
	return len(q.fns) > 0
}

// sendMessageCmd opens a generation stream for the user's message.
func sendMessageCmd(ctx context.Context, chat *ChatClient, conversationID, message string) tea.Cmd {
	return func() tea.Msg {
		handle, err := chat.Send(ctx, conversationID, message)
		if err != nil {
			return streamErrMsg{err: err}
		}
		return streamStartedMsg{handle: handle}
	}
}

// resumeCmd reopens the stream for an interrupted message.
func resumeCmd(ctx context.Context, chat *ChatClient, messageID string) tea.Cmd {
	return func() tea.Msg {
		handle, err := chat.Resume(ctx, messageID)
		if err != nil {
			return streamErrMsg{err: err}
		}
		return streamStartedMsg{handle: handle}
	}
}

// waitForEventCmd blocks on the next protocol event from the stream.
func waitForEventCmd(reader *client.EventReader) tea.Cmd {
	return func() tea.Msg {
		ev, err := reader.Next()
		if err == io.EOF {
			return streamDoneMsg{}
		}
		if errors.Is(err, client.ErrTruncated) {
			return streamDoneMsg{truncated: true}
		}
		if err != nil {
			return streamDoneMsg{err: err}
		}
		return streamEventMsg{event: ev}
	}
}

// flushFrameCmd fires after one frame interval so buffered deltas coalesce.
func flushFrameCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg {
		return flushFrameMsg{}
	})
}

// tickCmd drives spinner animation while a generation is running.
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg{time: t}
	})
}
