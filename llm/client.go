// ABOUTME: Chat completion client that opens a streaming request against an OpenAI-compatible API.
// ABOUTME: Returns a Stream wrapping the frame decoder; retries transient failures before first byte.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ChatCompletionClient opens streaming chat completion calls. Implementations
// other than Client exist only in tests.
type ChatCompletionClient interface {
	Stream(ctx context.Context, req Request) (*Stream, error)
}

// Stream is one in-flight streaming completion: the typed increment sequence
// plus the underlying response body. Callers must Close it when done.
type Stream struct {
	decoder *Decoder
	body    io.ReadCloser
}

// Next returns the next typed increment; io.EOF ends the sequence.
func (s *Stream) Next() (Increment, error) {
	return s.decoder.Next()
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// NewStream wraps an already-open frame stream. Used by tests and by the
// engine's provider fakes; production code goes through Client.Stream.
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{decoder: NewDecoder(body), body: body}
}

// Client calls a provider's /v1/chat/completions endpoint over raw HTTP so
// the frame stream can be decoded in-process.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      RetryPolicy
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at an OpenAI-compatible provider.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the default stream-open retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a Client with the given API key, default model, and options.
func NewClient(apiKey, model string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com",
		model:   model,
		// Streaming responses stay open for the whole generation, so the
		// client timeout covers connection setup only via the transport;
		// cancellation is the caller's context.
		httpClient: &http.Client{},
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream opens a streaming completion. Retryable failures (429, 5xx) before
// the first byte are retried per the client's policy; once the stream is
// open, errors surface through the decoder.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	body := buildRequestBody(req)

	var lastErr error
	for attempt := 0; ; attempt++ {
		stream, err := c.open(ctx, body)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		if !c.retry.ShouldRetry(err, attempt) {
			break
		}
		delay := c.retry.CalculateDelay(attempt)
		log.Printf("component=llm action=stream_retry attempt=%d delay=%s err=%v", attempt+1, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// open performs one streaming request attempt.
func (c *Client) open(ctx context.Context, body map[string]any) (*Stream, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, errorFromResponse(resp)
	}

	return NewStream(resp.Body), nil
}

// buildRequestBody translates a Request into the provider wire format.
func buildRequestBody(req Request) map[string]any {
	body := map[string]any{
		"model":    req.Model,
		"messages": translateMessages(req.Messages),
		"stream":   true,
	}

	if req.EnableThinking {
		body["enable_thinking"] = true
		if req.ThinkingBudget > 0 {
			body["thinking_budget"] = req.ThinkingBudget
		}
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, tool := range req.Tools {
			var params any
			if tool.Parameters != nil {
				_ = json.Unmarshal(tool.Parameters, &params)
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  params,
				},
			})
		}
		body["tools"] = tools
	}

	return body
}

// translateMessages converts unified Messages into the provider message shape.
func translateMessages(messages []Message) []map[string]any {
	var out []map[string]any

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem, RoleUser:
			out = append(out, map[string]any{
				"role":    string(msg.Role),
				"content": msg.TextContent(),
			})

		case RoleAssistant:
			entry := map[string]any{"role": "assistant"}
			if text := msg.TextContent(); text != "" {
				entry["content"] = text
			}
			var calls []map[string]any
			for _, tc := range msg.ToolCalls() {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(tc.Arguments),
					},
				})
			}
			if len(calls) > 0 {
				entry["tool_calls"] = calls
			}
			out = append(out, entry)

		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind == ContentToolResult && part.ToolResult != nil {
					out = append(out, map[string]any{
						"role":         "tool",
						"tool_call_id": part.ToolResult.ToolCallID,
						"content":      part.ToolResult.Content,
					})
				}
			}
		}
	}

	return out
}
