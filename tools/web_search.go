// ABOUTME: Fast web_search tool that runs a query through an injected Searcher.
// ABOUTME: Produces a markdown source list for the model and structured sources for the client.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluxchat/fluxchat/llm"
)

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher performs web searches. Implemented outside the engine; tests
// inject fakes.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// WebSearchTool executes searches through a Searcher. It is a fast tool:
// one request, one response, no progress reporting.
type WebSearchTool struct {
	searcher   Searcher
	maxResults int
}

// NewWebSearchTool creates the tool with a default result cap of 5.
func NewWebSearchTool(searcher Searcher) *WebSearchTool {
	return &WebSearchTool{searcher: searcher, maxResults: 5}
}

func (t *WebSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information. Returns a list of relevant pages with titles, URLs, and snippets.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"}
			},
			"required": ["query"]
		}`),
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return Result{}, fmt.Errorf("parse web_search args: %w", err)
	}
	if payload.Query == "" {
		return Result{}, fmt.Errorf("web_search requires a query")
	}

	results, err := t.searcher.Search(ctx, payload.Query, t.maxResults)
	if err != nil {
		return Result{}, fmt.Errorf("search %q: %w", payload.Query, err)
	}

	fields := map[string]any{
		"query":       payload.Query,
		"resultCount": len(results),
		"sources":     results,
	}
	if len(results) == 0 {
		return Result{Success: true, Summary: "No results found.", Fields: fields}, nil
	}

	var b strings.Builder
	for _, r := range results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		b.WriteString("- [")
		b.WriteString(r.Title)
		b.WriteString("](")
		b.WriteString(r.URL)
		b.WriteString(")")
		if r.Snippet != "" {
			b.WriteString(" - ")
			b.WriteString(r.Snippet)
		}
		b.WriteString("\n")
	}

	return Result{
		Success: true,
		Summary: strings.TrimSuffix(b.String(), "\n"),
		Fields:  fields,
	}, nil
}
