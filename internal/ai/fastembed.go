package ai

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// fastembedModels maps configured model names to fastembed models.
var fastembedModels = map[string]fastembed.EmbeddingModel{
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"all-MiniLM-L6-v2":                       fastembed.AllMiniLML6V2,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
}

var fastembedDims = map[fastembed.EmbeddingModel]int{
	fastembed.AllMiniLML6V2: 384,
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
}

// FastEmbedClient embeds text with a local ONNX model.
type FastEmbedClient struct {
	mu    sync.Mutex
	model *fastembed.FlagEmbedding
	dim   int
}

// resolveFastEmbedModel returns the fastembed model and its dimension for a
// configured model name.
func resolveFastEmbedModel(name string) (fastembed.EmbeddingModel, int, error) {
	if name == "" {
		name = "sentence-transformers/all-MiniLM-L6-v2"
	}
	m, ok := fastembedModels[name]
	if !ok {
		m = fastembed.EmbeddingModel(name)
	}
	dim, known := fastembedDims[m]
	if !known {
		return "", 0, fmt.Errorf("unsupported fastembed model %q", name)
	}
	return m, dim, nil
}

func NewFastEmbedClient(config *ClientConfig) (*FastEmbedClient, error) {
	model, dim, err := resolveFastEmbedModel(config.EmbedModel)
	if err != nil {
		return nil, err
	}
	if config.Dim != 0 && config.Dim != dim {
		return nil, fmt.Errorf("model %s produces %d dimensions, configured %d", config.EmbedModel, dim, config.Dim)
	}

	cacheDir := config.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	showProgress := false

	fe, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}
	return &FastEmbedClient{model: fe, dim: dim}, nil
}

// Embed implements the embedding functionality
func (c *FastEmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The ONNX session is not safe for concurrent use.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.model == nil {
		return nil, errors.New("fastembed model closed")
	}
	out, err := c.model.Embed([]string{text}, 1)
	if err != nil {
		return nil, fmt.Errorf("fastembed: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("no embedding")
	}
	return out[0], nil
}

func (c *FastEmbedClient) Dim() int {
	return c.dim
}

// Close releases the ONNX runtime session.
func (c *FastEmbedClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return nil
	}
	err := c.model.Destroy()
	c.model = nil
	return err
}
