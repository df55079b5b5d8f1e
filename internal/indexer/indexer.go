package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/codeindexer/internal/ai"
	"github.com/seanblong/codeindexer/internal/config"
	"github.com/seanblong/codeindexer/internal/store"
	"github.com/seanblong/codeindexer/pkg/models"
	"golang.org/x/sync/errgroup"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// Fetcher provides a local working copy of a repository.
type Fetcher interface {
	Fetch(ctx context.Context, repo models.RepositoryConfig) (string, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Options are the indexing parameters shared by every repository of a run.
type Options struct {
	Collection   string
	Distance     store.Distance
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Workers      int
	Extensions   []string
	ExcludedDirs []string
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Distance == "" {
		o.Distance = store.DistanceCosine
	}
	if o.Extensions == nil {
		o.Extensions = config.DefaultExtensions
	}
	if o.ExcludedDirs == nil {
		o.ExcludedDirs = config.DefaultExcludedDirs
	}
}

func (o Options) validate() error {
	if o.ChunkSize <= 0 || o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		return fmt.Errorf("%w: invalid chunking %d/%d", config.ErrConfiguration, o.ChunkSize, o.ChunkOverlap)
	}
	if err := store.ValidateCollectionName(o.Collection); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	return nil
}

// Indexer fetches repositories and writes their chunks to a vector store.
type Indexer struct {
	Store      store.VectorStore
	Embedder   ai.Embedder
	Fetcher    Fetcher
	Walker     FileSystemWalker
	FileReader FileReader
	Options    Options

	selector *Selector
	dim      int
	now      func() time.Time
}

// New creates a new Indexer instance.
func New(s store.VectorStore, e ai.Embedder, f Fetcher, opts Options) *Indexer {
	return NewWithDependencies(s, e, f, &DefaultFileSystemWalker{}, &DefaultFileReader{}, opts)
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(s store.VectorStore, e ai.Embedder, f Fetcher, walker FileSystemWalker, fileReader FileReader, opts Options) *Indexer {
	opts.applyDefaults()
	return &Indexer{
		Store:      s,
		Embedder:   e,
		Fetcher:    f,
		Walker:     walker,
		FileReader: fileReader,
		Options:    opts,
		selector:   NewSelector(opts.Extensions, opts.ExcludedDirs),
		now:        time.Now,
	}
}

// repoRun is the mutable state of indexing one repository.
type repoRun struct {
	repo    models.RepositoryConfig
	root    string
	seq     int
	batcher *Batcher
	result  *Result
}

// Prepare learns the embedding dimension and makes sure the collection
// exists with that dimension. Any error is fatal for the run.
func (ix *Indexer) Prepare(ctx context.Context) error {
	if err := ix.Options.validate(); err != nil {
		return err
	}
	dim, err := ai.DiscoverDim(ctx, ix.Embedder)
	if err != nil {
		return err
	}
	if err := ix.Store.EnsureCollection(ctx, ix.Options.Collection, dim, ix.Options.Distance); err != nil {
		return fmt.Errorf("ensure collection %s: %w", ix.Options.Collection, err)
	}
	ix.dim = dim
	log.Info().Str("collection", ix.Options.Collection).Int("dim", dim).Msg("vector store ready")
	return nil
}

// Run indexes repos one after another. A failing repository is logged and
// recorded in the summary; only preparation errors and cancellation are
// returned.
func (ix *Indexer) Run(ctx context.Context, repos []models.RepositoryConfig) (Summary, error) {
	var sum Summary
	if len(repos) == 0 {
		log.Warn().Msg("no repositories configured")
		return sum, nil
	}
	if err := ix.Prepare(ctx); err != nil {
		return sum, err
	}

	for _, repo := range repos {
		if strings.TrimSpace(repo.Name) == "" || strings.TrimSpace(repo.URL) == "" {
			log.Warn().Str("repository", repo.Name).Str("url", repo.URL).Msg("invalid repository config, skipping")
			sum.Results = append(sum.Results, Result{
				Repository: repo.Name,
				Status:     StatusSkipped,
				Err:        errors.New("repository needs a name and a url"),
			})
			continue
		}

		log.Info().Str("repository", repo.Name).Msg("processing repository")
		res, err := ix.IndexRepository(ctx, repo)
		sum.Results = append(sum.Results, res)
		if err != nil {
			logFailure(repo.Name, err)
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
	}

	total, err := ix.Store.PointCount(ctx, ix.Options.Collection)
	if err != nil {
		log.Warn().Err(err).Str("collection", ix.Options.Collection).Msg("failed to read collection stats")
	}
	sum.TotalPoints = total
	for _, r := range sum.Results {
		log.Info().
			Str("repository", r.Repository).
			Str("status", string(r.Status)).
			Int("files", r.Files).
			Int("chunks", r.Chunks).
			Int("chunks_skipped", r.ChunksSkipped).
			Msg("repository summary")
	}
	log.Info().
		Uint64("total_points", total).
		Int("repositories", len(sum.Results)).
		Int("failed", sum.Failed()).
		Msg("indexing complete")
	return sum, nil
}

func logFailure(repo string, err error) {
	switch {
	case errors.Is(err, ErrFetch):
		log.Error().Err(err).Str("repository", repo).Msg("failed to fetch repository, skipping")
	case errors.Is(err, ErrUpsert):
		log.Error().Err(err).Str("repository", repo).Msg("failed to upload batch, skipping rest of repository")
	default:
		log.Error().Err(err).Str("repository", repo).Msg("failed to index repository")
	}
}

// IndexRepository fetches repo and indexes every selected file. Records are
// numbered from zero and flushed in the order they are produced.
func (ix *Indexer) IndexRepository(ctx context.Context, repo models.RepositoryConfig) (Result, error) {
	res := Result{Repository: repo.Name, Status: StatusFailed}
	if ix.dim == 0 {
		if err := ix.Prepare(ctx); err != nil {
			res.Err = err
			return res, err
		}
	}

	root, err := ix.Fetcher.Fetch(ctx, repo)
	if err != nil {
		if !errors.Is(err, ErrFetch) {
			err = fmt.Errorf("%w: %v", ErrFetch, err)
		}
		res.Status = StatusSkipped
		res.Err = err
		return res, err
	}

	files, err := ix.discover(root)
	if err != nil {
		res.Err = fmt.Errorf("walk %s: %w", repo.Name, err)
		return res, res.Err
	}
	log.Info().Str("repository", repo.Name).Int("files", len(files)).Msgf("found %d code files", len(files))

	run := &repoRun{repo: repo, root: root, result: &res}
	run.batcher = NewBatcher(SinkFunc(func(ctx context.Context, records []models.IndexRecord) error {
		return ix.Store.Upsert(ctx, ix.Options.Collection, records)
	}), ix.Options.BatchSize)

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			res.Err = err
			res.Flushes = run.batcher.Flushes()
			return res, err
		}
		if err := ix.indexFile(ctx, run, rel); err != nil {
			if errors.Is(err, ErrFileRead) {
				log.Warn().Err(err).Str("repository", repo.Name).Str("path", rel).Msg("failed to read file, skipping")
				res.FilesSkipped++
				continue
			}
			res.Err = err
			res.Flushes = run.batcher.Flushes()
			return res, err
		}
		res.Files++
	}

	err = run.batcher.Flush(ctx)
	res.Flushes = run.batcher.Flushes()
	if err != nil {
		res.Err = err
		return res, err
	}

	res.Status = StatusIndexed
	log.Info().
		Str("repository", repo.Name).
		Int("files", res.Files).
		Int("chunks", res.Chunks).
		Int("batches", res.Flushes).
		Msg("repository indexed")
	return res, nil
}

// discover walks root in lexical order and returns the selected files as
// slash-separated paths relative to root.
func (ix *Indexer) discover(root string) ([]string, error) {
	var files []string
	err := ix.Walker.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			relPath := rel(root, path)
			// de is nil when the walker is a test double
			if de != nil {
				if de.IsDir() {
					if relPath != "." && ix.selector.PruneDir(relPath) {
						return godirwalk.SkipThis
					}
					return nil
				}
				if de.IsSymlink() {
					// links to directories are not followed
					fi, err := os.Stat(path)
					if err != nil || fi.IsDir() {
						return nil
					}
				} else if !de.IsRegular() {
					return nil
				}
			}
			if d := ix.selector.Check(relPath); !d.Accept {
				log.Debug().Str("path", relPath).Str("reason", string(d.Reason)).Msg("skipping file")
				return nil
			}
			files = append(files, relPath)
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Str("path", path).Msg("failed to walk path")
			return godirwalk.SkipNode
		},
	})
	return files, err
}

// indexFile chunks and embeds one file and adds its records to the batcher.
// Only read failures and batcher failures are returned.
func (ix *Indexer) indexFile(ctx context.Context, run *repoRun, relPath string) error {
	b, err := ix.FileReader.ReadFile(filepath.Join(run.root, filepath.FromSlash(relPath)))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFileRead, relPath, err)
	}
	content := strings.ToValidUTF8(string(b), "")
	if strings.TrimSpace(content) == "" {
		log.Debug().Str("path", relPath).Msg("skipping empty file")
		return nil
	}

	chunks := ChunkLines(content, ix.Options.ChunkSize, ix.Options.ChunkOverlap)
	vectors := ix.embedChunks(ctx, run.repo.Name, relPath, chunks)
	lang := language(relPath)
	for i, ch := range chunks {
		if vectors[i] == nil {
			run.result.ChunksSkipped++
			continue
		}
		rec := newRecord(run.repo.Name, relPath, lang, run.seq, ch, vectors[i], ix.now())
		run.seq++
		run.result.Chunks++
		if err := run.batcher.Add(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// embedChunks embeds chunks with at most Options.Workers requests in flight.
// vectors[i] belongs to chunks[i]; it is nil when that chunk failed.
func (ix *Indexer) embedChunks(ctx context.Context, repository, relPath string, chunks []models.Chunk) [][]float32 {
	vectors := make([][]float32, len(chunks))
	var g errgroup.Group
	g.SetLimit(ix.Options.Workers)
	for i, ch := range chunks {
		g.Go(func() error {
			v, err := ix.Embedder.Embed(ctx, ch.Content)
			if err == nil && len(v) != ix.dim {
				err = fmt.Errorf("got %d dimensions, want %d", len(v), ix.dim)
			}
			if err != nil {
				log.Warn().
					Err(fmt.Errorf("%w: %v", ErrChunkEmbed, err)).
					Str("repository", repository).
					Str("path", relPath).
					Int("start_line", ch.StartLine).
					Msg("failed to embed chunk, skipping")
				return nil
			}
			vectors[i] = v
			return nil
		})
	}
	_ = g.Wait()
	return vectors
}

func newRecord(repository, relPath, lang string, seq int, ch models.Chunk, vec []float32, at time.Time) models.IndexRecord {
	return models.IndexRecord{
		ID:          pointID(repository, relPath, ch.StartLine, ch.EndLine),
		Seq:         seq,
		Vector:      vec,
		Repository:  repository,
		FilePath:    relPath,
		Language:    lang,
		Content:     ch.Content,
		StartLine:   ch.StartLine,
		EndLine:     ch.EndLine,
		IndexedAt:   at.UTC(),
		ContentHash: hashContent(ch.Content),
	}
}

// hashContent returns the first 16 hex characters of the SHA-256 of s.
func hashContent(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}

// pointID derives a stable UUID from the chunk location.
func pointID(repository, relPath string, start, end int) string {
	name := fmt.Sprintf("codeindexer://%s/%s#L%d-%d", repository, relPath, start, end)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}
