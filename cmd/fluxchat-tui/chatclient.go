// ABOUTME: HTTP client for the fluxchat chat API: send, resume, stop, and tool cancel.
// ABOUTME: Returns live event readers over the SSE response body for the TUI to consume.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fluxchat/fluxchat/client"
)

// StreamHandle is one open generation stream and its identifiers from the
// response headers.
type StreamHandle struct {
	Reader         *client.EventReader
	MessageID      string
	ConversationID string
	SessionID      string
	Title          string

	body io.Closer
}

// Close releases the underlying response body.
func (h *StreamHandle) Close() error {
	return h.body.Close()
}

// ChatClient talks to a fluxchat server.
type ChatClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewChatClient creates a client for the server at baseURL. token may be
// empty for loopback servers without auth.
func NewChatClient(baseURL, token string) *ChatClient {
	return &ChatClient{
		baseURL: baseURL,
		token:   token,
		// No timeout: chat streams stay open for the whole generation.
		client: &http.Client{},
	}
}

// Send posts a user message and opens the generation stream. An empty
// conversationID starts a new conversation.
func (c *ChatClient) Send(ctx context.Context, conversationID, message string) (*StreamHandle, error) {
	payload, err := json.Marshal(map[string]string{
		"conversationId": conversationID,
		"message":        message,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.openStream(req)
}

// Resume reopens the stream for a message, replaying its unsent content.
func (c *ChatClient) Resume(ctx context.Context, messageID string) (*StreamHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/chat/%s/resume", c.baseURL, messageID), nil)
	if err != nil {
		return nil, fmt.Errorf("build resume request: %w", err)
	}
	return c.openStream(req)
}

// Stop requests cancellation of the active generation for a message.
func (c *ChatClient) Stop(ctx context.Context, messageID string) error {
	return c.post(ctx, fmt.Sprintf("%s/api/chat/%s/stop", c.baseURL, messageID))
}

// CancelTool requests cancellation of one running tool call.
func (c *ChatClient) CancelTool(ctx context.Context, messageID, toolCallID string) error {
	return c.post(ctx, fmt.Sprintf("%s/api/chat/%s/tools/%s/cancel", c.baseURL, messageID, toolCallID))
}

func (c *ChatClient) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *ChatClient) openStream(req *http.Request) (*StreamHandle, error) {
	c.authorize(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	return &StreamHandle{
		Reader:         client.NewEventReader(resp.Body),
		MessageID:      resp.Header.Get("X-Message-Id"),
		ConversationID: resp.Header.Get("X-Conversation-Id"),
		SessionID:      resp.Header.Get("X-Session-Id"),
		Title:          resp.Header.Get("X-Conversation-Title"),
		body:           resp.Body,
	}, nil
}

func (c *ChatClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
