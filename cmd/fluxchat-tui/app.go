// ABOUTME: Top-level Bubble Tea model for the chat TUI: transcript, input box, and status bar.
// ABOUTME: Implements tea.Model (Init, Update, View) and drives the assembler from stream events.
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fluxchat/fluxchat/client"
)

// ChatModel is the top-level Bubble Tea model for one chat session.
type ChatModel struct {
	chat *ChatClient
	ctx  context.Context

	input textarea.Model
	spin  spinner.Model

	history   []client.Message
	assembler *client.Assembler
	handle    *StreamHandle

	flushes        *flushQueue
	frameScheduled bool

	conversationID string
	title          string
	interruptedID  string // message id to resume after a truncated stream
	streaming      bool
	status         string
	width          int
	height         int
}

// NewChatModel creates the chat model. conversationID may be empty to start
// a new conversation on the first message.
func NewChatModel(ctx context.Context, chat *ChatClient, conversationID string) ChatModel {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.CharLimit = 4000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return ChatModel{
		chat:           chat,
		ctx:            ctx,
		input:          ta,
		spin:           sp,
		flushes:        &flushQueue{},
		conversationID: conversationID,
		title:          "fluxchat",
	}
}

// Init implements tea.Model.
func (m ChatModel) Init() tea.Cmd {
	return textarea.Blink
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 2)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case streamStartedMsg:
		return m.handleStreamStarted(msg)

	case streamEventMsg:
		return m.handleStreamEvent(msg)

	case streamDoneMsg:
		return m.handleStreamDone(msg)

	case streamErrMsg:
		m.streaming = false
		m.status = errorStyle.Render("error: " + msg.err.Error())
		return m, nil

	case flushFrameMsg:
		m.frameScheduled = false
		m.flushes.drain()
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.streaming && m.handle != nil {
			_ = m.chat.Stop(m.ctx, m.handle.MessageID)
		}
		return m, tea.Quit

	case "esc":
		if m.streaming && m.handle != nil {
			_ = m.chat.Stop(m.ctx, m.handle.MessageID)
			m.status = "stopping..."
		}
		return m, nil

	case "ctrl+r":
		if !m.streaming && m.interruptedID != "" {
			return m.startResume()
		}
		return m, nil

	case "enter":
		if m.streaming {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		return m.startSend(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) startSend(text string) (tea.Model, tea.Cmd) {
	m.history = append(m.history, client.Message{
		Role:         "user",
		Content:      text,
		DisplayState: client.DisplayIdle,
	})
	m.input.Reset()
	m.assembler = client.NewAssembler("", m.flushes.schedule, nil)
	m.streaming = true
	m.interruptedID = ""
	m.status = ""
	return m, tea.Batch(
		sendMessageCmd(m.ctx, m.chat, m.conversationID, text),
		m.spin.Tick,
	)
}

func (m ChatModel) startResume() (tea.Model, tea.Cmd) {
	m.assembler = client.NewAssembler(m.interruptedID, m.flushes.schedule, nil)
	m.streaming = true
	m.status = "resuming..."
	return m, tea.Batch(
		resumeCmd(m.ctx, m.chat, m.interruptedID),
		m.spin.Tick,
	)
}

func (m ChatModel) handleStreamStarted(msg streamStartedMsg) (tea.Model, tea.Cmd) {
	m.handle = msg.handle
	if msg.handle.ConversationID != "" {
		m.conversationID = msg.handle.ConversationID
	}
	if msg.handle.Title != "" {
		m.title = msg.handle.Title
	}
	m.status = ""
	return m, waitForEventCmd(msg.handle.Reader)
}

func (m ChatModel) handleStreamEvent(msg streamEventMsg) (tea.Model, tea.Cmd) {
	if m.assembler == nil {
		return m, nil
	}
	m.assembler.Apply(msg.event)

	cmds := []tea.Cmd{waitForEventCmd(m.handle.Reader)}
	if m.flushes.pending() && !m.frameScheduled {
		m.frameScheduled = true
		cmds = append(cmds, flushFrameCmd())
	}
	return m, tea.Batch(cmds...)
}

func (m ChatModel) handleStreamDone(msg streamDoneMsg) (tea.Model, tea.Cmd) {
	if m.handle != nil {
		_ = m.handle.Close()
	}
	m.streaming = false

	if m.assembler != nil {
		m.assembler.Finish()
		m.flushes.drain()
		m.history = append(m.history, m.assembler.Message())
		m.assembler = nil
	}

	switch {
	case msg.truncated:
		if m.handle != nil {
			m.interruptedID = m.handle.MessageID
		}
		m.status = errorStyle.Render("connection lost; press ctrl+r to resume")
	case msg.err != nil:
		m.status = errorStyle.Render("stream error: " + msg.err.Error())
	default:
		m.status = ""
	}
	m.handle = nil
	return m, nil
}

// View implements tea.Model.
func (m ChatModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	for _, msg := range m.history {
		b.WriteString(m.renderMessage(msg))
	}
	if m.assembler != nil {
		b.WriteString(m.renderMessage(m.assembler.Message()))
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m ChatModel) renderMessage(msg client.Message) string {
	var b strings.Builder

	switch msg.Role {
	case "user":
		b.WriteString(userLabelStyle.Render("you"))
	default:
		b.WriteString(assistantLabelStyle.Render("assistant"))
	}
	b.WriteString("\n")

	if msg.Thinking != "" {
		b.WriteString(thinkingStyle.Render(msg.Thinking))
		b.WriteString("\n")
	}

	for _, inv := range msg.ToolCalls {
		b.WriteString(m.renderTool(inv))
		b.WriteString("\n")
	}

	if msg.Content != "" {
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	if msg.ErrorText != "" {
		b.WriteString(errorStyle.Render(msg.ErrorText))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	return b.String()
}

func (m ChatModel) renderTool(inv client.ToolInvocation) string {
	style := styleForTool(inv.State)

	detail := inv.Query
	if detail == "" {
		detail = inv.Prompt
	}
	line := inv.Name
	if detail != "" {
		line += " " + lipgloss.NewStyle().Faint(true).Render(detail)
	}

	switch inv.State {
	case "running":
		if inv.Progress > 0 {
			return style.Render(fmt.Sprintf("%s %s %d%%", m.spin.View(), line, inv.Progress))
		}
		return style.Render(m.spin.View() + " " + line)
	case "completed":
		return style.Render("+ " + line)
	default:
		return style.Render("x " + line)
	}
}

func (m ChatModel) statusLine() string {
	if m.streaming {
		return statusBarStyle.Render(m.spin.View() + " generating (esc to stop)")
	}
	if m.status != "" {
		return statusBarStyle.Render(m.status)
	}
	return statusBarStyle.Render("enter to send | ctrl+c to quit")
}
