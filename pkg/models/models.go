package models

import "time"

// Chunk is a contiguous, 1-based, inclusive line range of a source file.
type Chunk struct {
	Content   string `json:"content"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// IndexRecord is one embedded chunk ready to be written to the vector store.
type IndexRecord struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	Vector      []float32 `json:"-"`
	Repository  string    `json:"repository"`
	FilePath    string    `json:"file_path"`
	Language    string    `json:"language"`
	Content     string    `json:"content"`
	StartLine   int       `json:"start_line"`
	EndLine     int       `json:"end_line"`
	IndexedAt   time.Time `json:"indexed_at"`
	ContentHash string    `json:"content_hash"`
}

type RepositoryConfig struct {
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url"`
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`
}
