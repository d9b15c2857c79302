// ABOUTME: Tests for the generate_image tool: stage progress, cancellation between stages, fields.
// ABOUTME: Uses fake generator and store backends to step through the pipeline.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeGenerator struct {
	url       string
	err       error
	gotPrompt string
	onCall    func()
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.gotPrompt = prompt
	if f.onCall != nil {
		f.onCall()
	}
	return f.url, f.err
}

type fakeStore struct {
	local  string
	err    error
	called bool
}

func (f *fakeStore) Save(ctx context.Context, remoteURL string) (string, error) {
	f.called = true
	return f.local, f.err
}

func TestGenerateImageProgressStages(t *testing.T) {
	gen := &fakeGenerator{url: "https://cdn/img.png"}
	st := &fakeStore{local: "/images/img.png"}
	tool := NewGenerateImageTool(gen, st)

	var stages []int
	result, err := tool.ExecuteWithProgress(context.Background(),
		json.RawMessage(`{"prompt":"a lighthouse"}`),
		func(p int) { stages = append(stages, p) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gen.gotPrompt != "a lighthouse" {
		t.Errorf("expected prompt forwarded, got %q", gen.gotPrompt)
	}
	if len(stages) != 3 || stages[0] != 10 || stages[1] != 70 || stages[2] != 100 {
		t.Errorf("expected progress [10 70 100], got %v", stages)
	}
	if result.Fields["imageUrl"] != "/images/img.png" || result.Fields["prompt"] != "a lighthouse" {
		t.Errorf("unexpected fields: %+v", result.Fields)
	}
}

func TestGenerateImageCancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{url: "https://cdn/img.png", onCall: cancel}
	st := &fakeStore{local: "/images/img.png"}
	tool := NewGenerateImageTool(gen, st)

	_, err := tool.ExecuteWithProgress(ctx, json.RawMessage(`{"prompt":"p"}`), func(int) {})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st.called {
		t.Error("store must not run after cancellation")
	}
}

func TestGenerateImageGeneratorFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	tool := NewGenerateImageTool(gen, &fakeStore{})

	var stages []int
	_, err := tool.ExecuteWithProgress(context.Background(),
		json.RawMessage(`{"prompt":"p"}`), func(p int) { stages = append(stages, p) })
	if err == nil {
		t.Fatal("expected error")
	}
	if len(stages) != 1 || stages[0] != 10 {
		t.Errorf("expected only the first stage reported, got %v", stages)
	}
}

func TestGenerateImageRequiresPrompt(t *testing.T) {
	tool := NewGenerateImageTool(&fakeGenerator{}, &fakeStore{})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing prompt")
	}
}
