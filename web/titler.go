// ABOUTME: Conversation title generation via a non-streaming chat completion.
// ABOUTME: Produces a short title from the first user message of a new conversation.
package web

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const titlePrompt = "Generate a title for the following conversation opener. " +
	"Reply with the title only: at most six words, no quotes, no trailing punctuation."

// Titler generates conversation titles with a small non-streaming completion.
// Title generation is best effort; callers fall back to a truncated message
// when it fails.
type Titler struct {
	client openai.Client
	model  string
}

// NewTitler creates a Titler against the given provider. An empty baseURL
// uses the provider default.
func NewTitler(apiKey, model, baseURL string) *Titler {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Titler{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Title produces a short title for a conversation opened with firstMessage.
func (t *Titler) Title(ctx context.Context, firstMessage string) (string, error) {
	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: t.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(titlePrompt),
			openai.UserMessage(firstMessage),
		},
		MaxCompletionTokens: openai.Int(32),
	})
	if err != nil {
		return "", fmt.Errorf("title completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("title completion: empty response")
	}
	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return "", fmt.Errorf("title completion: blank title")
	}
	return title, nil
}

// FallbackTitle derives a title from the message itself when generation
// is unavailable.
func FallbackTitle(firstMessage string) string {
	title := strings.Join(strings.Fields(firstMessage), " ")
	if len(title) > 48 {
		cut := strings.LastIndex(title[:48], " ")
		if cut < 24 {
			cut = 48
		}
		title = title[:cut]
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
