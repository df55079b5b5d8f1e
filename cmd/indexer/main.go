package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/codeindexer/internal/ai"
	"github.com/seanblong/codeindexer/internal/auth"
	"github.com/seanblong/codeindexer/internal/config"
	"github.com/seanblong/codeindexer/internal/gitrepo"
	"github.com/seanblong/codeindexer/internal/indexer"
	"github.com/seanblong/codeindexer/internal/logging"
	"github.com/seanblong/codeindexer/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := pflag.NewFlagSet("codeindexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}
	fs.Usage = cfg.Usage

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Error().Err(err).Msg("failed to configure logging")
		return 1
	}

	if len(cfg.Repositories) == 0 {
		log.Warn().Msg("no repositories configured, nothing to index")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientConfig := embedderConfig(cfg)
	log.Info().Str("provider", string(clientConfig.Provider)).Str("model", clientConfig.EmbedModel).Msg("loading embedding model")
	embedder, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Error().Err(err).Msg("failed to create embedder")
		return 1
	}
	if c, ok := embedder.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close embedder")
			}
		}()
	}

	st, err := newStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("backend", cfg.Backend).Msg("failed to connect to vector store")
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close vector store")
		}
	}()

	distance, _ := store.ParseDistance(cfg.Distance) // checked by config.Validate
	ix := indexer.New(st, embedder, gitrepo.New(cfg.WorkDir, cfg.GitToken, cfg.CloneDepth), indexer.Options{
		Collection:   cfg.CollectionName,
		Distance:     distance,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		BatchSize:    cfg.BatchSize,
		Workers:      cfg.Workers,
		Extensions:   cfg.CodeExtensions,
		ExcludedDirs: cfg.ExcludedDirs,
	})

	if _, err := ix.Run(ctx, cfg.Repositories); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("indexing interrupted")
		} else {
			log.Error().Err(err).Msg("indexing failed")
		}
		return 1
	}
	return 0
}

// embedderConfig maps the configuration onto the embedding client settings.
func embedderConfig(cfg config.Specification) *ai.ClientConfig {
	provider := strings.ToLower(cfg.Provider)
	if provider == "google" {
		provider = string(ai.ProviderVertexAI)
	}
	return &ai.ClientConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		EmbedModel: cfg.EmbedModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		CacheDir:   cfg.ModelCacheDir,
		Provider:   ai.Provider(provider),
	}
}

func newStore(ctx context.Context, cfg config.Specification) (store.VectorStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "pgvector":
		s, err := store.NewPgvector(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		opts, err := store.ParseQdrantURL(cfg.QdrantURL)
		if err != nil {
			return nil, err
		}
		if opts.APIKey, err = qdrantCredential(cfg); err != nil {
			return nil, err
		}
		return store.NewQdrant(ctx, opts)
	}
}

// qdrantCredential returns the API key, or a read-write token for the
// collection when qdrant_token_ttl is set.
func qdrantCredential(cfg config.Specification) (string, error) {
	if cfg.QdrantTokenTTL <= 0 {
		return cfg.QdrantAPIKey, nil
	}
	token, err := auth.NewCollectionToken(cfg.QdrantAPIKey, cfg.CollectionName, auth.AccessReadWrite, cfg.QdrantTokenTTL)
	if err != nil {
		return "", err
	}
	claims, err := auth.ParseToken(cfg.QdrantAPIKey, token)
	if err != nil {
		return "", err
	}
	if !claims.Allows(cfg.CollectionName, auth.AccessReadWrite) {
		return "", fmt.Errorf("%w: token does not grant write access to %s", auth.ErrInvalidToken, cfg.CollectionName)
	}
	log.Info().Dur("ttl", cfg.QdrantTokenTTL).Str("collection", cfg.CollectionName).Msg("using collection-scoped qdrant token")
	return token, nil
}
