package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/codeindexer/pkg/models"
)

const defaultQdrantGRPCPort = 6334

// qdrantAPI is the subset of *qdrant.Client used by QdrantStore.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Close() error
}

// QdrantStore writes IndexRecords as points over Qdrant's gRPC API.
type QdrantStore struct {
	client qdrantAPI
}

// QdrantOptions describes how to reach a Qdrant server.
type QdrantOptions struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// ParseQdrantURL turns "http(s)://host[:port]" into connection options.
// The port defaults to the gRPC port; the REST port 6333 is rewritten to
// 6334 because the client only speaks gRPC.
func ParseQdrantURL(raw string) (QdrantOptions, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return QdrantOptions{}, fmt.Errorf("parse qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return QdrantOptions{}, fmt.Errorf("parse qdrant url %q: missing host", raw)
	}
	opts := QdrantOptions{
		Host:   u.Hostname(),
		Port:   defaultQdrantGRPCPort,
		UseTLS: u.Scheme == "https",
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return QdrantOptions{}, fmt.Errorf("parse qdrant url %q: invalid port", raw)
		}
		if port == 6333 {
			log.Warn().Str("url", raw).Msg("qdrant REST port given, using gRPC port 6334")
			port = defaultQdrantGRPCPort
		}
		opts.Port = port
	}
	return opts, nil
}

// NewQdrant connects to Qdrant and checks that it answers.
func NewQdrant(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}
	log.Info().Str("host", opts.Host).Int("port", opts.Port).Msg("connected to qdrant")
	return &QdrantStore{client: client}, nil
}

func newQdrantWithClient(c qdrantAPI) *QdrantStore { return &QdrantStore{client: c} }

func (s *QdrantStore) Close() error { return s.client.Close() }

// EnsureCollection creates the collection if it is missing. An existing
// collection must have been created with the same vector size.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return fmt.Errorf("get collection %s: %w", name, err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != uint64(dim) {
			return fmt.Errorf("%w: %s has %d dimensions, embedder produces %d", ErrDimensionMismatch, name, size, dim)
		}
		log.Info().Str("collection", name).Msg("collection already exists")
		return nil
	}

	log.Info().Str("collection", name).Int("dim", dim).Str("distance", string(distance)).Msg("creating collection")
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrantDistance(distance),
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes records as one request and waits until they are applied.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []models.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload(r),
		}
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points to %s: %w", len(points), collection, err)
	}
	return nil
}

// PointCount returns the number of points stored in the collection.
func (s *QdrantStore) PointCount(ctx context.Context, collection string) (uint64, error) {
	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("get collection %s: %w", collection, err)
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return *info.PointsCount, nil
}

func payload(r models.IndexRecord) map[string]*qdrant.Value {
	str := func(s string) *qdrant.Value {
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
	}
	num := func(i int) *qdrant.Value {
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(i)}}
	}
	return map[string]*qdrant.Value{
		"seq":          num(r.Seq),
		"repository":   str(r.Repository),
		"file_path":    str(r.FilePath),
		"language":     str(r.Language),
		"content":      str(r.Content),
		"start_line":   num(r.StartLine),
		"end_line":     num(r.EndLine),
		"indexed_at":   str(r.IndexedAt.UTC().Format(time.RFC3339Nano)),
		"content_hash": str(r.ContentHash),
	}
}

func qdrantDistance(d Distance) qdrant.Distance {
	switch d {
	case DistanceEuclid:
		return qdrant.Distance_Euclid
	case DistanceDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}
