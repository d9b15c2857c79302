// ABOUTME: Slow generate_image tool that renders a prompt through an ImageGenerator and stores the result.
// ABOUTME: Reports stage progress and honors per-call cancellation between stages.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fluxchat/fluxchat/llm"
)

// ImageGenerator renders an image for a prompt and returns a remote URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (remoteURL string, err error)
}

// ImageStore copies a remote image into local storage and returns the local
// URL. Storage mechanics live outside the engine.
type ImageStore interface {
	Save(ctx context.Context, remoteURL string) (localURL string, err error)
}

// GenerateImageTool is a slow tool: it reports progress through
// ExecuteWithProgress and can be cancelled mid-flight by its own call
// context without affecting sibling tools.
type GenerateImageTool struct {
	generator ImageGenerator
	store     ImageStore
}

// NewGenerateImageTool wires the tool to its collaborators.
func NewGenerateImageTool(generator ImageGenerator, store ImageStore) *GenerateImageTool {
	return &GenerateImageTool{generator: generator, store: store}
}

func (t *GenerateImageTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "generate_image",
		Description: "Generate an image from a text prompt. Returns the URL of the generated image.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "Description of the image to generate"}
			},
			"required": ["prompt"]
		}`),
	}
}

// Execute satisfies Tool for callers that do not stream progress.
func (t *GenerateImageTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	return t.ExecuteWithProgress(ctx, args, func(int) {})
}

// ExecuteWithProgress runs the generate-then-store pipeline, reporting
// coarse stage progress. The context is this call's own cancellation scope.
func (t *GenerateImageTool) ExecuteWithProgress(ctx context.Context, args json.RawMessage, progress func(percent int)) (Result, error) {
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return Result{}, fmt.Errorf("parse generate_image args: %w", err)
	}
	if payload.Prompt == "" {
		return Result{}, fmt.Errorf("generate_image requires a prompt")
	}

	progress(10)

	remoteURL, err := t.generator.Generate(ctx, payload.Prompt)
	if err != nil {
		return Result{}, fmt.Errorf("generate image: %w", err)
	}
	progress(70)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	localURL, err := t.store.Save(ctx, remoteURL)
	if err != nil {
		return Result{}, fmt.Errorf("store image: %w", err)
	}
	progress(100)

	return Result{
		Success: true,
		Summary: fmt.Sprintf("Image generated: %s", localURL),
		Fields: map[string]any{
			"prompt":   payload.Prompt,
			"imageUrl": localURL,
		},
	}, nil
}
