// Package gitrepo keeps local working copies of remote repositories.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/codeindexer/pkg/models"
)

// ErrFetch wraps every clone or pull failure.
var ErrFetch = errors.New("fetch failed")

// Fetcher clones repositories into WorkDir/<name> and updates them in place
// on later runs.
type Fetcher struct {
	WorkDir string
	Token   string
	Depth   int
}

func New(workDir, token string, depth int) *Fetcher {
	return &Fetcher{WorkDir: workDir, Token: token, Depth: depth}
}

// Fetch returns the path of an up-to-date working copy of repo.
func (f *Fetcher) Fetch(ctx context.Context, repo models.RepositoryConfig) (string, error) {
	if err := validName(repo.Name); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if err := os.MkdirAll(f.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create work dir: %v", ErrFetch, err)
	}
	path := filepath.Join(f.WorkDir, repo.Name)

	if _, err := os.Stat(path); err == nil {
		log.Info().Str("repository", repo.Name).Msg("pulling updates")
		if err := f.pull(ctx, path, repo); err != nil {
			return "", fmt.Errorf("%w: pull %s: %v", ErrFetch, repo.Name, err)
		}
		return path, nil
	}

	log.Info().Str("repository", repo.Name).Str("url", repo.URL).Msg("cloning")
	if err := f.clone(ctx, path, repo); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", path).Msg("failed to remove partial clone")
		}
		return "", fmt.Errorf("%w: clone %s: %v", ErrFetch, repo.Name, err)
	}
	return path, nil
}

func (f *Fetcher) clone(ctx context.Context, path string, repo models.RepositoryConfig) error {
	opts := &git.CloneOptions{
		URL:   repo.URL,
		Auth:  f.auth(repo.URL),
		Depth: f.Depth,
	}
	if repo.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(repo.Branch)
		opts.SingleBranch = true
	}
	_, err := git.PlainCloneContext(ctx, path, false, opts)
	return err
}

func (f *Fetcher) pull(ctx context.Context, path string, repo models.RepositoryConfig) error {
	r, err := git.PlainOpen(path)
	if err != nil {
		return err
	}
	wt, err := r.Worktree()
	if err != nil {
		return err
	}
	opts := &git.PullOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       f.auth(repo.URL),
		Depth:      f.Depth,
	}
	if repo.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(repo.Branch)
		opts.SingleBranch = true
	}
	err = wt.PullContext(ctx, opts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// auth returns token credentials for HTTPS remotes and nil otherwise.
func (f *Fetcher) auth(url string) transport.AuthMethod {
	if f.Token == "" || !strings.HasPrefix(url, "https://") {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: f.Token}
}

// validName rejects names that would escape the work directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid repository name %q", name)
	}
	return nil
}
