package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/codeindexer/pkg/models"
)

// PgvectorStore keeps one Postgres table per collection.
type PgvectorStore struct {
	pool *pgxpool.Pool
}

// NewPgvector creates a new store connected to the given database URL.
func NewPgvector(ctx context.Context, url string) (*PgvectorStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PgvectorStore{pool: p}, nil
}

func (s *PgvectorStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connectivity.
func (s *PgvectorStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// EnsureCollection creates the extension, the table and its indexes.
func (s *PgvectorStore) EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, migrationSQL(name, dim, distance)); err != nil {
		return fmt.Errorf("migrate %s: %w", name, err)
	}

	// format_type reports "vector(N)" for the embedding column.
	var typ string
	err := s.pool.QueryRow(ctx, `
SELECT format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
WHERE a.attrelid = $1::regclass AND a.attname = 'embedding'`, pgx.Identifier{name}.Sanitize()).Scan(&typ)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", name, err)
	}
	if want := fmt.Sprintf("vector(%d)", dim); typ != want {
		return fmt.Errorf("%w: %s is %s, embedder produces %d", ErrDimensionMismatch, name, typ, dim)
	}
	log.Info().Str("collection", name).Int("dim", dim).Msg("collection ready")
	return nil
}

func migrationSQL(name string, dim int, distance Distance) string {
	table := pgx.Identifier{name}.Sanitize()
	index := pgx.Identifier{name + "_embedding_idx"}.Sanitize()
	hashIndex := pgx.Identifier{name + "_hash_idx"}.Sanitize()
	repoIndex := pgx.Identifier{name + "_repository_idx"}.Sanitize()
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
  id            UUID PRIMARY KEY,
  seq           INT NOT NULL,
  repository    TEXT NOT NULL,
  file_path     TEXT NOT NULL,
  language      TEXT,
  content       TEXT,
  start_line    INT,
  end_line      INT,
  indexed_at    TIMESTAMP WITH TIME ZONE,
  content_hash  TEXT,
  embedding     vector(%[2]d)
);

CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s (repository);
CREATE INDEX IF NOT EXISTS %[5]s ON %[1]s (content_hash);
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s USING hnsw (embedding %[6]s);
`, table, dim, index, repoIndex, hashIndex, opClass(distance))
}

func opClass(d Distance) string {
	switch d {
	case DistanceEuclid:
		return "vector_l2_ops"
	case DistanceDot:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

func upsertSQL(name string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
  id, seq, repository, file_path, language, content,
  start_line, end_line, indexed_at, content_hash, embedding
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  seq          = EXCLUDED.seq,
  language     = EXCLUDED.language,
  content      = EXCLUDED.content,
  indexed_at   = EXCLUDED.indexed_at,
  content_hash = EXCLUDED.content_hash,
  embedding    = EXCLUDED.embedding`, pgx.Identifier{name}.Sanitize())
}

// Upsert writes all records in one transaction so a batch lands entirely or not at all.
func (s *PgvectorStore) Upsert(ctx context.Context, collection string, records []models.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	q := upsertSQL(collection)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Warn().Err(err).Msg("rollback failed")
		}
	}()

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(q,
			r.ID, r.Seq, r.Repository, r.FilePath, r.Language, r.Content,
			r.StartLine, r.EndLine, r.IndexedAt, r.ContentHash, pgvector.NewVector(r.Vector),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert %d rows into %s: %w", len(records), collection, err)
	}
	return tx.Commit(ctx)
}

// PointCount returns the number of rows in the collection table.
func (s *PgvectorStore) PointCount(ctx context.Context, collection string) (uint64, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	var n int64
	q := "SELECT count(*) FROM " + pgx.Identifier{collection}.Sanitize()
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}
