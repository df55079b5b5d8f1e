package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Embedder turns chunk text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Provider is enumeration of supported embedding providers
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderVertexAI  Provider = "vertexai"
	ProviderFastEmbed Provider = "fastembed"
	ProviderStub      Provider = "stub"
)

// ClientConfig holds configuration for embedding clients
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	Dim        int
	ProjectID  string
	Location   string
	CacheDir   string
	Provider   Provider
}

// NewClient creates a new embedding client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Embedder, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderFastEmbed:
		return NewFastEmbedClient(config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

const dimProbe = "func main() {}"

// DiscoverDim returns the embedder's configured dimension, or embeds a
// short probe text once to learn it when none is configured.
func DiscoverDim(ctx context.Context, e Embedder) (int, error) {
	if d := e.Dim(); d > 0 {
		return d, nil
	}
	v, err := e.Embed(ctx, dimProbe)
	if err != nil {
		return 0, fmt.Errorf("discover embedding dimension: %w", err)
	}
	if len(v) == 0 {
		return 0, errors.New("discover embedding dimension: empty vector")
	}
	return len(v), nil
}

// StubClient returns deterministic unit vectors derived from the text hash.
// It needs no network or model and is meant for tests and dry runs.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// Embed implements the embedding functionality
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, s.dim)
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := range out {
		block := sha256.Sum256(append(seed[:], byte(i), byte(i>>8)))
		u := binary.BigEndian.Uint32(block[:4])
		out[i] = float32(u)/float32(math.MaxUint32)*2 - 1
		norm += float64(out[i]) * float64(out[i])
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range out {
			out[i] /= n
		}
	}
	return out, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
