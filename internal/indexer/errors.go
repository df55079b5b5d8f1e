package indexer

import (
	"errors"

	"github.com/seanblong/codeindexer/internal/gitrepo"
)

// Failure tiers. Run decides how far each one reaches: ErrFetch and
// ErrUpsert end the current repository, ErrFileRead skips one file and
// ErrChunkEmbed skips one chunk.
var (
	ErrFetch      = gitrepo.ErrFetch
	ErrUpsert     = errors.New("upsert failed")
	ErrFileRead   = errors.New("file read failed")
	ErrChunkEmbed = errors.New("chunk embedding failed")
)

// Status is the outcome of one repository.
type Status string

const (
	StatusIndexed Status = "indexed"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result describes what happened to one repository.
type Result struct {
	Repository    string
	Status        Status
	Files         int
	FilesSkipped  int
	Chunks        int
	ChunksSkipped int
	Flushes       int
	Err           error
}

// Summary is the outcome of a Run.
type Summary struct {
	Results     []Result
	TotalPoints uint64
}

// Failed returns the number of repositories that were not fully indexed.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.Status != StatusIndexed {
			n++
		}
	}
	return n
}
