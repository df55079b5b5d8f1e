package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultVertexModel    = "text-embedding-005"
	defaultVertexDim      = 768
	defaultVertexLocation = "us-central1"
	// Chunks are stored for later retrieval, not used as queries.
	vertexTaskType = "RETRIEVAL_DOCUMENT"
)

// contentEmbedder is the part of genai.Models used for embeddings.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// VertexAIClient embeds chunks with the Vertex AI text embedding models.
type VertexAIClient struct {
	config *ClientConfig
	models contentEmbedder
}

// NewVertexAIClient creates a new client for the Vertex AI embedding models.
// A local sentence-transformers model name falls back to the Vertex default.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	applyVertexDefaults(config)

	client, err := genai.NewClient(ctx, vertexClientConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex ai client: %w", err)
	}
	return &VertexAIClient{config: config, models: client.Models}, nil
}

func applyVertexDefaults(config *ClientConfig) {
	if config.EmbedModel == "" || strings.HasPrefix(config.EmbedModel, "sentence-transformers/") {
		config.EmbedModel = defaultVertexModel
	}
	if config.Dim == 0 {
		config.Dim = defaultVertexDim
	}
	// API-key (express mode) access is global; project access needs a region.
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = defaultVertexLocation
	}
}

func vertexClientConfig(config *ClientConfig) *genai.ClientConfig {
	return &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		APIKey:   strings.TrimSpace(config.APIKey),
		Project:  strings.TrimSpace(config.ProjectID),
		Location: strings.TrimSpace(config.Location),
	}
}

func (c *VertexAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.models == nil {
		return nil, errors.New("vertex ai client not initialized")
	}
	dim := int32(c.config.Dim)
	cfg := &genai.EmbedContentConfig{
		TaskType:             vertexTaskType,
		OutputDimensionality: &dim,
	}

	res, err := c.models.EmbedContent(ctx, c.config.EmbedModel, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("vertex ai embedding: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil || len(res.Embeddings[0].Values) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return res.Embeddings[0].Values, nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
