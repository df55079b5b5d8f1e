package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/seanblong/codeindexer/pkg/models"
)

// VectorStore persists IndexRecords in a named collection.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dim int, distance Distance) error
	Upsert(ctx context.Context, collection string, records []models.IndexRecord) error
	PointCount(ctx context.Context, collection string) (uint64, error)
	Close() error
}

// Distance is the similarity metric of a collection.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceEuclid Distance = "euclid"
	DistanceDot    Distance = "dot"
)

var (
	// ErrDimensionMismatch is returned when an existing collection was
	// created for a different embedding size.
	ErrDimensionMismatch = errors.New("collection dimension mismatch")
	// ErrInvalidCollectionName is returned for names that are not safe to use
	// as a collection or table identifier.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)

// ValidateCollectionName accepts letters, digits, '_' and '-' only.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// ParseDistance maps a configuration value to a Distance. Empty means cosine.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return DistanceCosine, nil
	case "euclid", "euclidean", "l2":
		return DistanceEuclid, nil
	case "dot":
		return DistanceDot, nil
	default:
		return "", fmt.Errorf("unsupported distance %q", s)
	}
}
