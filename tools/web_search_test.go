// ABOUTME: Tests for the web_search tool: argument parsing, summary formatting, and result fields.
// ABOUTME: Uses a fake searcher; the HTTP searcher is tested against an httptest endpoint.
package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSearcher struct {
	results  []SearchResult
	err      error
	gotQuery string
	gotMax   int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	f.gotQuery = query
	f.gotMax = maxResults
	return f.results, f.err
}

func TestWebSearchSummaryAndFields(t *testing.T) {
	searcher := &fakeSearcher{results: []SearchResult{
		{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"},
		{Title: "Docs", URL: "https://go.dev/doc", Snippet: ""},
		{Title: "", URL: "https://skip.me", Snippet: "no title"},
	}}
	tool := NewWebSearchTool(searcher)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"golang"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if searcher.gotQuery != "golang" || searcher.gotMax != 5 {
		t.Errorf("unexpected search call: query=%q max=%d", searcher.gotQuery, searcher.gotMax)
	}

	want := "- [Go](https://go.dev) - The Go language\n- [Docs](https://go.dev/doc)"
	if result.Summary != want {
		t.Errorf("expected summary %q, got %q", want, result.Summary)
	}
	if result.Fields["resultCount"] != 3 || result.Fields["query"] != "golang" {
		t.Errorf("unexpected fields: %+v", result.Fields)
	}
}

func TestWebSearchEmptyResults(t *testing.T) {
	tool := NewWebSearchTool(&fakeSearcher{})
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"obscure"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary != "No results found." || result.Fields["resultCount"] != 0 {
		t.Errorf("unexpected empty-result handling: %+v", result)
	}
}

func TestWebSearchRequiresQuery(t *testing.T) {
	tool := NewWebSearchTool(&fakeSearcher{})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing query")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for malformed args")
	}
}

func TestHTTPSearcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "golang" {
			t.Errorf("expected query golang, got %q", got)
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("expected format json, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"title":"One","url":"https://one","content":"first"},
			{"title":"Two","url":"https://two","content":"second"},
			{"title":"Three","url":"https://three","content":"third"}
		]}`))
	}))
	defer ts.Close()

	s := NewHTTPSearcher(ts.URL)
	results, err := s.Search(context.Background(), "golang", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected maxResults to cap at 2, got %d", len(results))
	}
	if results[0].Title != "One" || results[0].Snippet != "first" {
		t.Errorf("unexpected first result: %+v", results[0])
	}
}

func TestHTTPSearcherErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	if _, err := NewHTTPSearcher(ts.URL).Search(context.Background(), "x", 5); err == nil {
		t.Error("expected error for non-200 status")
	}
}
