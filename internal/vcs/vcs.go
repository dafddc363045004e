// Package vcs wraps go-git with the handful of repository operations the
// pipeline needs: clone-or-fetch, revision resolution, range logs with parent
// counts, forced checkouts, and reading a file at a commit without touching
// the worktree.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/benchsweep/benchsweep/internal/models"
)

// Head marks "the tip of the branch" wherever a fixed revision is accepted.
const Head = "HEAD"

// defaultRemoteName is the remote all fetches go through.
const defaultRemoteName = "origin"

// Commit is one entry of a range log. ParentCount > 1 identifies a merge.
type Commit struct {
	Hash        string
	ParentCount int
}

// Repo is a handle on one local checkout.
type Repo struct {
	path string
	repo *git.Repository
}

// Open opens an existing repository at path.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}
	return &Repo{path: path, repo: repo}, nil
}

// EnsureClone clones remote into path if no repository exists there yet,
// otherwise fetches from origin (unless skipFetch is set). Fetching an
// already up-to-date repository is not an error.
func EnsureClone(ctx context.Context, remote, path string, skipFetch bool) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		slog.Info("cloning repository", "remote", remote, "dest", path)
		repo, err = git.PlainCloneContext(ctx, path, false, &git.CloneOptions{URL: remote})
		if err != nil {
			return nil, fmt.Errorf("cloning %s: %w", remote, err)
		}
		return &Repo{path: path, repo: repo}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}

	if !skipFetch {
		slog.Debug("fetching repository", "path", path)
		err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: defaultRemoteName})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("fetching %s: %w", path, err)
		}
	}
	return &Repo{path: path, repo: repo}, nil
}

// Path returns the repository's working directory.
func (r *Repo) Path() string {
	return r.path
}

// ResolveCommit resolves rev on the given branch to a commit hash. Rev "HEAD"
// (or empty) means the branch tip; anything else is handed to go-git's
// revision resolver as-is.
func (r *Repo) ResolveCommit(branch, rev string) (string, error) {
	if rev == "" || rev == Head {
		// Prefer the remote-tracking ref; local test repositories only
		// carry local branches.
		for _, name := range []string{"refs/remotes/origin/" + branch, "refs/heads/" + branch} {
			if h, err := r.repo.ResolveRevision(plumbing.Revision(name)); err == nil {
				return h.String(), nil
			}
		}
		return "", fmt.Errorf("%w: branch %q in %s", models.ErrUnresolvableRef, branch, r.path)
	}

	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("%w: revision %q in %s: %v", models.ErrUnresolvableRef, rev, r.path, err)
	}
	return h.String(), nil
}

// LogRange returns the commits reachable from endRev back to (and excluding)
// startRev, in committer-time order reversed to oldest first. An empty
// startRev walks all the way to the root. The order is deterministic for a
// fixed repository state; callers rely on that for reproducible work lists.
func (r *Repo) LogRange(branch, startRev, endRev string) ([]Commit, error) {
	endHash, err := r.ResolveCommit(branch, endRev)
	if err != nil {
		return nil, err
	}

	var startHash string
	if startRev != "" {
		startHash, err = r.ResolveCommit(branch, startRev)
		if err != nil {
			return nil, err
		}
	}

	iter, err := r.repo.Log(&git.LogOptions{
		From:  plumbing.NewHash(endHash),
		Order: git.LogOrderCommitterTime,
	})
	if err != nil {
		return nil, fmt.Errorf("walking history of %s: %w", r.path, err)
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash.String() == startHash {
			return storer.ErrStop
		}
		commits = append(commits, Commit{Hash: c.Hash.String(), ParentCount: c.NumParents()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking history of %s: %w", r.path, err)
	}

	// Oldest first.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// Checkout force-checks-out the given commit in the worktree.
func (r *Repo) Checkout(commit string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree of %s: %w", r.path, err)
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Hash:  plumbing.NewHash(commit),
		Force: true,
	})
	if err != nil {
		return fmt.Errorf("checking out %s in %s: %w", commit, r.path, err)
	}
	return nil
}

// FileAt reads a file's contents at a commit, without moving the worktree.
func (r *Repo) FileAt(commit, path string) ([]byte, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return nil, fmt.Errorf("%w: commit %q in %s: %v", models.ErrUnresolvableRef, commit, r.path, err)
	}
	f, err := c.File(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s at %s: %w", path, commit, err)
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("reading %s at %s: %w", path, commit, err)
	}
	return []byte(contents), nil
}
