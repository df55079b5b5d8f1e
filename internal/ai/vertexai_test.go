package ai

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"
)

// MockContentEmbedder implements contentEmbedder for testing
type MockContentEmbedder struct {
	EmbedContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

func (m *MockContentEmbedder) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	return m.EmbedContentFunc(ctx, model, contents, config)
}

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	if _, err := NewVertexAIClient(context.Background(), nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestApplyVertexDefaults(t *testing.T) {
	tests := []struct {
		name     string
		config   ClientConfig
		model    string
		dim      int
		location string
	}{
		{"empty", ClientConfig{}, "text-embedding-005", 768, "us-central1"},
		{"local model name", ClientConfig{EmbedModel: "sentence-transformers/all-MiniLM-L6-v2"}, "text-embedding-005", 768, "us-central1"},
		{"api key keeps global location", ClientConfig{APIKey: "k"}, "text-embedding-005", 768, ""},
		{"explicit values", ClientConfig{EmbedModel: "text-multilingual-embedding-002", Dim: 256, Location: "europe-west4"}, "text-multilingual-embedding-002", 256, "europe-west4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			applyVertexDefaults(&cfg)
			if cfg.EmbedModel != tt.model || cfg.Dim != tt.dim || cfg.Location != tt.location {
				t.Errorf("Expected %s/%d/%q, got %s/%d/%q", tt.model, tt.dim, tt.location, cfg.EmbedModel, cfg.Dim, cfg.Location)
			}
		})
	}
}

func TestVertexClientConfig(t *testing.T) {
	cc := vertexClientConfig(&ClientConfig{APIKey: " key ", ProjectID: "proj", Location: "europe-west4"})
	if cc.Backend != genai.BackendVertexAI {
		t.Errorf("Expected vertex backend, got %v", cc.Backend)
	}
	if cc.APIKey != "key" || cc.Project != "proj" || cc.Location != "europe-west4" {
		t.Errorf("Unexpected client config %+v", cc)
	}
}

func TestVertexAIClient_Embed(t *testing.T) {
	var gotModel string
	var gotConfig *genai.EmbedContentConfig
	c := &VertexAIClient{
		config: &ClientConfig{EmbedModel: "text-embedding-005", Dim: 3},
		models: &MockContentEmbedder{
			EmbedContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
				gotModel = model
				gotConfig = config
				return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 2, 3}}}}, nil
			},
		},
	}

	v, err := c.Embed(context.Background(), "func main() {}")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("Expected 3 values, got %v", v)
	}
	if gotModel != "text-embedding-005" {
		t.Errorf("Expected model text-embedding-005, got %q", gotModel)
	}
	if gotConfig.TaskType != "RETRIEVAL_DOCUMENT" || gotConfig.OutputDimensionality == nil || *gotConfig.OutputDimensionality != 3 {
		t.Errorf("Unexpected embed config %+v", gotConfig)
	}
}

func TestVertexAIClient_EmbedErrors(t *testing.T) {
	tests := []struct {
		name string
		res  *genai.EmbedContentResponse
		err  error
	}{
		{"api error", nil, errors.New("quota exceeded")},
		{"nil response", nil, nil},
		{"no embeddings", &genai.EmbedContentResponse{}, nil},
		{"empty values", &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{}}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &VertexAIClient{
				config: &ClientConfig{Dim: 768},
				models: &MockContentEmbedder{
					EmbedContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
						return tt.res, tt.err
					},
				},
			}
			if _, err := c.Embed(context.Background(), "x"); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestVertexAIClient_EmbedWithNilClient(t *testing.T) {
	c := &VertexAIClient{config: &ClientConfig{Dim: 768}}
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Error("Expected error for uninitialized client")
	}
	if c.Dim() != 768 {
		t.Errorf("Expected dim 768, got %d", c.Dim())
	}
}
