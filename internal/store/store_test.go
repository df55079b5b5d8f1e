package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"github.com/seanblong/codeindexer/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockQdrantClient implements qdrantAPI for testing
type MockQdrantClient struct {
	CollectionExistsFunc  func(ctx context.Context, name string) (bool, error)
	CreateCollectionFunc  func(ctx context.Context, req *qdrant.CreateCollection) error
	GetCollectionInfoFunc func(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	UpsertFunc            func(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	closed                bool
}

func (m *MockQdrantClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	if m.CollectionExistsFunc != nil {
		return m.CollectionExistsFunc(ctx, name)
	}
	return false, nil
}

func (m *MockQdrantClient) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	if m.CreateCollectionFunc != nil {
		return m.CreateCollectionFunc(ctx, req)
	}
	return nil
}

func (m *MockQdrantClient) GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
	if m.GetCollectionInfoFunc != nil {
		return m.GetCollectionInfoFunc(ctx, name)
	}
	return &qdrant.CollectionInfo{}, nil
}

func (m *MockQdrantClient) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, req)
	}
	return &qdrant.UpdateResult{}, nil
}

func (m *MockQdrantClient) Close() error {
	m.closed = true
	return nil
}

func collectionInfo(size uint64, points uint64) *qdrant.CollectionInfo {
	return &qdrant.CollectionInfo{
		PointsCount: qdrant.PtrOf(points),
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: size, Distance: qdrant.Distance_Cosine}),
			},
		},
	}
}

func TestQdrantStore_EnsureCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing collection", func(t *testing.T) {
		var created *qdrant.CreateCollection
		m := &MockQdrantClient{
			CreateCollectionFunc: func(ctx context.Context, req *qdrant.CreateCollection) error {
				created = req
				return nil
			},
		}
		if err := newQdrantWithClient(m).EnsureCollection(ctx, "code_embeddings", 384, DistanceCosine); err != nil {
			t.Fatalf("EnsureCollection failed: %v", err)
		}
		if created == nil {
			t.Fatal("Expected CreateCollection to be called")
		}
		if created.CollectionName != "code_embeddings" {
			t.Errorf("Expected collection name code_embeddings, got %q", created.CollectionName)
		}
		params := created.GetVectorsConfig().GetParams()
		if params.GetSize() != 384 || params.GetDistance() != qdrant.Distance_Cosine {
			t.Errorf("Unexpected vector params: %v", params)
		}
	})

	t.Run("existing collection with same size", func(t *testing.T) {
		m := &MockQdrantClient{
			CollectionExistsFunc: func(ctx context.Context, name string) (bool, error) { return true, nil },
			GetCollectionInfoFunc: func(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
				return collectionInfo(384, 10), nil
			},
			CreateCollectionFunc: func(ctx context.Context, req *qdrant.CreateCollection) error {
				t.Error("CreateCollection must not be called for an existing collection")
				return nil
			},
		}
		if err := newQdrantWithClient(m).EnsureCollection(ctx, "code_embeddings", 384, DistanceCosine); err != nil {
			t.Fatalf("EnsureCollection failed: %v", err)
		}
	})

	t.Run("existing collection with different size", func(t *testing.T) {
		m := &MockQdrantClient{
			CollectionExistsFunc: func(ctx context.Context, name string) (bool, error) { return true, nil },
			GetCollectionInfoFunc: func(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
				return collectionInfo(768, 10), nil
			},
		}
		err := newQdrantWithClient(m).EnsureCollection(ctx, "code_embeddings", 384, DistanceCosine)
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Fatalf("Expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("existence check fails", func(t *testing.T) {
		m := &MockQdrantClient{
			CollectionExistsFunc: func(ctx context.Context, name string) (bool, error) {
				return false, errors.New("unavailable")
			},
		}
		if err := newQdrantWithClient(m).EnsureCollection(ctx, "code_embeddings", 384, DistanceCosine); err == nil {
			t.Fatal("Expected error")
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		err := newQdrantWithClient(&MockQdrantClient{}).EnsureCollection(ctx, "../etc", 384, DistanceCosine)
		if !errors.Is(err, ErrInvalidCollectionName) {
			t.Fatalf("Expected ErrInvalidCollectionName, got %v", err)
		}
	})
}

func TestQdrantStore_Upsert(t *testing.T) {
	ctx := context.Background()
	indexedAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []models.IndexRecord{
		{
			ID: "3f2b7c5e-1d7a-5b7e-9a53-2b1c0f7c7d11", Seq: 0, Vector: []float32{0.1, 0.2},
			Repository: "repo", FilePath: "main.go", Language: "go", Content: "package main",
			StartLine: 1, EndLine: 1, IndexedAt: indexedAt, ContentHash: "0123456789abcdef",
		},
		{
			ID: "9a0c2e41-6a0f-5d64-8f57-3c1e29b6e0aa", Seq: 1, Vector: []float32{0.3, 0.4},
			Repository: "repo", FilePath: "util.go", Language: "go", Content: "package util",
			StartLine: 1, EndLine: 1, IndexedAt: indexedAt, ContentHash: "fedcba9876543210",
		},
	}

	var got *qdrant.UpsertPoints
	m := &MockQdrantClient{
		UpsertFunc: func(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
			got = req
			return &qdrant.UpdateResult{}, nil
		},
	}
	if err := newQdrantWithClient(m).Upsert(ctx, "code_embeddings", records); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected Upsert to be called")
	}
	if got.CollectionName != "code_embeddings" || !got.GetWait() {
		t.Errorf("Unexpected request: collection=%q wait=%v", got.CollectionName, got.GetWait())
	}
	if len(got.Points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(got.Points))
	}

	p := got.Points[0]
	if p.GetId().GetUuid() != records[0].ID {
		t.Errorf("Expected point id %s, got %s", records[0].ID, p.GetId().GetUuid())
	}
	pl := p.GetPayload()
	if pl["file_path"].GetStringValue() != "main.go" {
		t.Errorf("Expected file_path payload, got %v", pl["file_path"])
	}
	if pl["start_line"].GetIntegerValue() != 1 || pl["seq"].GetIntegerValue() != 0 {
		t.Errorf("Unexpected line payload: %v %v", pl["start_line"], pl["seq"])
	}
	if pl["content_hash"].GetStringValue() != "0123456789abcdef" {
		t.Errorf("Unexpected content_hash payload: %v", pl["content_hash"])
	}
	if pl["indexed_at"].GetStringValue() != "2025-01-02T03:04:05Z" {
		t.Errorf("Unexpected indexed_at payload: %v", pl["indexed_at"])
	}
	if got.Points[1].GetPayload()["seq"].GetIntegerValue() != 1 {
		t.Errorf("Expected second point seq 1")
	}
}

func TestQdrantStore_UpsertErrorAndEmpty(t *testing.T) {
	ctx := context.Background()
	calls := 0
	m := &MockQdrantClient{
		UpsertFunc: func(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
			calls++
			return nil, errors.New("deadline exceeded")
		},
	}
	s := newQdrantWithClient(m)

	if err := s.Upsert(ctx, "c", nil); err != nil {
		t.Fatalf("Expected empty upsert to be a no-op, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no client call for empty upsert, got %d", calls)
	}

	err := s.Upsert(ctx, "c", []models.IndexRecord{{ID: "3f2b7c5e-1d7a-5b7e-9a53-2b1c0f7c7d11", Vector: []float32{1}}})
	if err == nil || !strings.Contains(err.Error(), "deadline exceeded") {
		t.Errorf("Expected wrapped client error, got %v", err)
	}
}

func TestQdrantStore_PointCount(t *testing.T) {
	ctx := context.Background()
	m := &MockQdrantClient{
		GetCollectionInfoFunc: func(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
			return collectionInfo(384, 1234), nil
		},
	}
	n, err := newQdrantWithClient(m).PointCount(ctx, "code_embeddings")
	if err != nil {
		t.Fatalf("PointCount failed: %v", err)
	}
	if n != 1234 {
		t.Errorf("Expected 1234, got %d", n)
	}

	empty := &MockQdrantClient{}
	if n, err := newQdrantWithClient(empty).PointCount(ctx, "c"); err != nil || n != 0 {
		t.Errorf("Expected 0 for missing count, got %d (%v)", n, err)
	}
}

func TestQdrantStore_Close(t *testing.T) {
	m := &MockQdrantClient{}
	if err := newQdrantWithClient(m).Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !m.closed {
		t.Error("Expected client to be closed")
	}
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    QdrantOptions
		wantErr bool
	}{
		{raw: "http://localhost:6334", want: QdrantOptions{Host: "localhost", Port: 6334}},
		{raw: "http://qdrant:6333", want: QdrantOptions{Host: "qdrant", Port: 6334}},
		{raw: "https://cloud.example.com", want: QdrantOptions{Host: "cloud.example.com", Port: 6334, UseTLS: true}},
		{raw: "http://qdrant:7000", want: QdrantOptions{Host: "qdrant", Port: 7000}},
		{raw: "qdrant:6334", wantErr: true},
		{raw: "http://:6334", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseQdrantURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q, got %+v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseQdrantURL(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDistance(t *testing.T) {
	tests := map[string]Distance{
		"":       DistanceCosine,
		"Cosine": DistanceCosine,
		"l2":     DistanceEuclid,
		"euclid": DistanceEuclid,
		"dot":    DistanceDot,
	}
	for in, want := range tests {
		got, err := ParseDistance(in)
		if err != nil || got != want {
			t.Errorf("ParseDistance(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseDistance("manhattan"); err == nil {
		t.Error("Expected error for unsupported distance")
	}
}

func TestValidateCollectionName(t *testing.T) {
	for _, ok := range []string{"code_embeddings", "code-embeddings", "A1"} {
		if err := ValidateCollectionName(ok); err != nil {
			t.Errorf("Expected %q to be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a b", "x;drop", "../etc", strings.Repeat("a", 64)} {
		if err := ValidateCollectionName(bad); !errors.Is(err, ErrInvalidCollectionName) {
			t.Errorf("Expected %q to be invalid, got %v", bad, err)
		}
	}
}

func TestPgvectorSQL(t *testing.T) {
	m := migrationSQL("code-embeddings", 384, DistanceCosine)
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "code-embeddings"`,
		"vector(384)",
		"vector_cosine_ops",
		`"code-embeddings_hash_idx"`,
	} {
		if !strings.Contains(m, want) {
			t.Errorf("Expected migration to contain %q", want)
		}
	}
	if !strings.Contains(migrationSQL("c", 8, DistanceDot), "vector_ip_ops") {
		t.Error("Expected dot distance to use vector_ip_ops")
	}
	if !strings.Contains(migrationSQL("c", 8, DistanceEuclid), "vector_l2_ops") {
		t.Error("Expected euclid distance to use vector_l2_ops")
	}

	u := upsertSQL("code_embeddings")
	if !strings.Contains(u, `INSERT INTO "code_embeddings"`) || !strings.Contains(u, "ON CONFLICT (id) DO UPDATE") {
		t.Errorf("Unexpected upsert SQL: %s", u)
	}
}
