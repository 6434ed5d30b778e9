package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spec-kit/campus-helpdesk/internal/config"
	"github.com/spec-kit/campus-helpdesk/internal/domain"
)

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("embedding provider not configured")

// Client computes text embeddings through an OpenAI-compatible endpoint.
// The model is pinned at construction; every returned vector is tagged with
// it.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds a client from configuration. A missing API key yields a
// client whose Embed always fails, so intake degrades to no duplicate
// detection.
func NewClient(cfg config.EmbeddingConfig) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &Client{model: cfg.Model}
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{api: openai.NewClientWithConfig(apiCfg), model: cfg.Model}
}

// Model returns the pinned model identity.
func (c *Client) Model() string {
	return c.model
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	if c.api == nil {
		return domain.Embedding{}, ErrNotConfigured
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return domain.Embedding{}, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return domain.Embedding{}, errors.New("create embedding: empty response")
	}
	// some providers append a revision suffix to the model name
	if resp.Model != "" && !strings.HasPrefix(string(resp.Model), c.model) {
		return domain.Embedding{}, fmt.Errorf("create embedding: provider answered with model %q, pinned %q", resp.Model, c.model)
	}
	return domain.Embedding{Model: c.model, Vector: resp.Data[0].Embedding}, nil
}
