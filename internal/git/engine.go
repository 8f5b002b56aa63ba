package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks -source=engine.go Engine

// Engine defines the git operations used by a deployment
type Engine interface {
	// Open opens the working copy. Failures wrap ErrRepositoryUnavailable.
	Open() error

	// Pull fast-forwards to the upstream branch and returns the paths that
	// differ between the old and new HEAD. An unchanged HEAD yields an empty list.
	Pull(ctx context.Context) ([]string, error)

	// CheckForUpdates fetches without merging and compares HEAD with the upstream tip
	CheckForUpdates(ctx context.Context) (*UpdateStatus, error)

	// Head returns the checked out commit
	Head() (*Commit, error)

	// IndexLocked reports whether .git/index.lock exists
	IndexLocked() bool

	// Status lists uncommitted and untracked files
	Status() (*WorkingTreeStatus, error)

	// LastCommitForPath returns the full hash of the newest commit touching
	// prefix, or an empty string when no commit does
	LastCommitForPath(prefix string) (string, error)
}

// Option configures an Engine
type Option func(*engine)

// WithRemote sets the tracked remote name
func WithRemote(remote string) Option {
	return func(e *engine) {
		e.remote = remote
	}
}

// WithBranch sets the tracked branch name
func WithBranch(branch string) Option {
	return func(e *engine) {
		e.branch = branch
	}
}

// WithBasicAuth sets HTTP basic credentials for fetch and pull
func WithBasicAuth(username, password string) Option {
	return func(e *engine) {
		if username == "" {
			return
		}
		e.auth = &githttp.BasicAuth{
			Username: username,
			Password: password,
		}
		slog.Debug("Using Git HTTP Basic authentication", "username", username)
	}
}

// engine implements Engine on an on-disk working copy using go-git
type engine struct {
	path   string
	remote string
	branch string
	auth   transport.AuthMethod

	// mu serialises go-git calls; the repository object is not safe for
	// concurrent writers
	mu   sync.Mutex
	repo *git.Repository
}

// NewEngine creates an Engine for the working copy at path
func NewEngine(path string, opts ...Option) Engine {
	e := &engine{
		path:   path,
		remote: git.DefaultRemoteName,
		branch: "main",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open opens the working copy and checks that HEAD resolves
func (e *engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.openLocked()
	return err
}

func (e *engine) openLocked() (*git.Repository, error) {
	repo, err := git.PlainOpen(e.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRepositoryUnavailable, e.path, err)
	}
	if _, err := repo.Worktree(); err != nil {
		return nil, fmt.Errorf("%w: %s has no worktree: %w", ErrRepositoryUnavailable, e.path, err)
	}
	if _, err := repo.Head(); err != nil {
		return nil, fmt.Errorf("%w: failed to resolve HEAD: %w", ErrRepositoryUnavailable, err)
	}
	e.repo = repo
	return repo, nil
}

// repository returns the open repository, opening it on first use
func (e *engine) repository() (*git.Repository, error) {
	if e.repo != nil {
		return e.repo, nil
	}
	return e.openLocked()
}

// IndexLocked reports whether another git process holds the index lock
func (e *engine) IndexLocked() bool {
	_, err := os.Stat(filepath.Join(e.path, git.GitDirName, "index.lock"))
	return err == nil
}

// Pull fast-forwards the working copy and returns the changed paths
func (e *engine) Pull(ctx context.Context) ([]string, error) {
	if e.IndexLocked() {
		return nil, ErrGitLocked
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return nil, err
	}

	before, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get HEAD reference: %w", ErrPullFailed, err)
	}

	workTree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get worktree: %w", ErrPullFailed, err)
	}

	err = workTree.PullContext(ctx, &git.PullOptions{
		RemoteName:    e.remote,
		ReferenceName: plumbing.NewBranchReferenceName(e.branch),
		SingleBranch:  true,
		Auth:          e.auth,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		slog.Debug("Repository already up to date", "commit", ShortSHA(before.Hash().String()))
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPullFailed, err)
	}

	after, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get HEAD reference: %w", ErrPullFailed, err)
	}
	if after.Hash() == before.Hash() {
		return []string{}, nil
	}

	files, err := diffCommits(ctx, repo, before.Hash(), after.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPullFailed, err)
	}

	slog.Info("Pulled changes",
		"from", ShortSHA(before.Hash().String()),
		"to", ShortSHA(after.Hash().String()),
		"changed_files", len(files),
	)
	return files, nil
}

// diffCommits returns the paths that differ between the trees of two commits.
// Renames show up as a deletion and an addition so both paths are reported.
func diffCommits(ctx context.Context, repo *git.Repository, from, to plumbing.Hash) ([]string, error) {
	fromCommit, err := repo.CommitObject(from)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", from, err)
	}
	toCommit, err := repo.CommitObject(to)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", to, err)
	}

	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	changes, err := fromTree.DiffContext(ctx, toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	files := make([]string, 0, len(changes))
	for _, change := range changes {
		name := change.To.Name
		if name == "" {
			name = change.From.Name
		}
		files = append(files, name)
	}
	return files, nil
}

// CheckForUpdates fetches the tracked branch and compares it with HEAD
func (e *engine) CheckForUpdates(ctx context.Context) (*UpdateStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return nil, err
	}

	refSpec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", e.branch, e.remote, e.branch))
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: e.remote,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       e.auth,
	})
	var noMatch git.NoMatchingRefSpecError
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, git.ErrRemoteNotFound), errors.As(err, &noMatch):
		return nil, fmt.Errorf("%w: %s/%s", ErrNoUpstream, e.remote, e.branch)
	default:
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(e.remote, e.branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoUpstream, e.remote, e.branch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upstream reference: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	localCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get local commit: %w", err)
	}
	remoteCommit, err := repo.CommitObject(remoteRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get remote commit: %w", err)
	}

	behind, log, err := commitsBehind(repo, head.Hash(), remoteRef.Hash())
	if err != nil {
		return nil, err
	}

	return &UpdateStatus{
		Local:         newCommit(localCommit),
		Remote:        newCommit(remoteCommit),
		CommitsBehind: behind,
		Log:           log,
		CheckedAt:     time.Now().UTC(),
	}, nil
}

// commitsBehind counts commits reachable from remote but not from local and
// returns up to MaxLogEntries of them, newest first
func commitsBehind(repo *git.Repository, local, remote plumbing.Hash) (int, []Commit, error) {
	log := []Commit{}
	if local == remote {
		return 0, log, nil
	}

	reachable := make(map[plumbing.Hash]struct{})
	localIter, err := repo.Log(&git.LogOptions{From: local})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to walk local history: %w", err)
	}
	err = localIter.ForEach(func(c *object.Commit) error {
		reachable[c.Hash] = struct{}{}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to walk local history: %w", err)
	}

	remoteIter, err := repo.Log(&git.LogOptions{From: remote, Order: git.LogOrderCommitterTime})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to walk remote history: %w", err)
	}

	behind := 0
	err = remoteIter.ForEach(func(c *object.Commit) error {
		if _, ok := reachable[c.Hash]; ok {
			return nil
		}
		behind++
		if len(log) < MaxLogEntries {
			log = append(log, newCommit(c))
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to walk remote history: %w", err)
	}
	return behind, log, nil
}

// Head returns the checked out commit
func (e *engine) Head() (*Commit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return nil, err
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD reference: %w", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}

	c := newCommit(commit)
	return &c, nil
}

// Status lists files that differ from HEAD. Ignored files are not reported.
func (e *engine) Status() (*WorkingTreeStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return nil, err
	}

	workTree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := workTree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree status: %w", err)
	}

	result := &WorkingTreeStatus{Modified: []string{}, Untracked: []string{}}
	for path, fs := range status {
		switch {
		case fs.Worktree == git.Untracked:
			result.Untracked = append(result.Untracked, path)
		case fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified:
			result.Modified = append(result.Modified, path)
		}
	}
	slices.Sort(result.Modified)
	slices.Sort(result.Untracked)
	return result, nil
}

// LastCommitForPath returns the newest commit reachable from HEAD that
// touches a path under prefix
func (e *engine) LastCommitForPath(prefix string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{
		From: head.Hash(),
		PathFilter: func(p string) bool {
			return strings.HasPrefix(p, prefix)
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk history: %w", err)
	}
	defer iter.Close()

	commit, err := iter.Next()
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to walk history: %w", err)
	}
	return commit.Hash.String(), nil
}
