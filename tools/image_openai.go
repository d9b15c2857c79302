// ABOUTME: ImageGenerator backed by the OpenAI Images API and a file-based ImageStore.
// ABOUTME: Generated images are downloaded into a local directory and served by URL path.
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIImageGenerator renders images through the OpenAI Images API.
type OpenAIImageGenerator struct {
	client openai.Client
	model  openai.ImageModel
}

// NewOpenAIImageGenerator creates a generator. An empty model defaults to
// dall-e-3; an empty baseURL uses the provider default.
func NewOpenAIImageGenerator(apiKey, model, baseURL string) *OpenAIImageGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	m := openai.ImageModelDallE3
	if model != "" {
		m = openai.ImageModel(model)
	}
	return &OpenAIImageGenerator{
		client: openai.NewClient(opts...),
		model:  m,
	}
}

// Generate renders one image for the prompt and returns its remote URL.
func (g *OpenAIImageGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  g.model,
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image generation: empty response")
	}
	return resp.Data[0].URL, nil
}

// FileImageStore downloads remote images into a local directory. Saved
// images are addressable under urlPrefix (e.g. "/images").
type FileImageStore struct {
	dir       string
	urlPrefix string
	client    *http.Client
}

// NewFileImageStore creates the store, making dir if needed.
func NewFileImageStore(dir, urlPrefix string) (*FileImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &FileImageStore{
		dir:       dir,
		urlPrefix: urlPrefix,
		client:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Dir returns the local directory images are saved under.
func (s *FileImageStore) Dir() string {
	return s.dir
}

// Save downloads the image at remoteURL and returns its local URL path.
func (s *FileImageStore) Save(ctx context.Context, remoteURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", fmt.Errorf("build image download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	name := uuid.New().String() + ".png"
	dest := filepath.Join(s.dir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return "", fmt.Errorf("write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close image file: %w", err)
	}

	return path.Join(s.urlPrefix, name), nil
}
