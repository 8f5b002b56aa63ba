// Package gittest builds throwaway repositories for tests: an upstream
// repository to commit into and a clone of it that plays the working copy.
package gittest

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Files maps repository-relative paths to content
type Files map[string]string

var commitSeq atomic.Int64

// Signature returns the test author. Each call is one second later than the
// previous one so commits order deterministically by time.
func Signature() *object.Signature {
	return &object.Signature{
		Name:  "Test Author",
		Email: "test@example.com",
		When:  time.Unix(1_700_000_000+commitSeq.Add(1), 0).UTC(),
	}
}

// Repo is a non-bare repository on the main branch
type Repo struct {
	Dir  string
	repo *git.Repository
}

// NewUpstream creates a repository with one initial commit of files
func NewUpstream(t *testing.T, files Files) *Repo {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatalf("Failed to init repository: %v", err)
	}

	r := &Repo{Dir: dir, repo: repo}
	r.Commit(t, "Initial commit", files)
	return r
}

// Clone clones upstream into a fresh temporary directory
func Clone(t *testing.T, upstream *Repo) *Repo {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:           upstream.Dir,
		ReferenceName: plumbing.Main,
		SingleBranch:  true,
	})
	if err != nil {
		t.Fatalf("Failed to clone repository: %v", err)
	}
	return &Repo{Dir: dir, repo: repo}
}

// Commit writes files, removes the paths in remove, and commits the result.
// It returns the full commit hash.
func (r *Repo) Commit(t *testing.T, message string, files Files, remove ...string) string {
	t.Helper()

	workTree, err := r.repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	for name, content := range files {
		r.WriteFile(t, name, content)
		if _, err := workTree.Add(name); err != nil {
			t.Fatalf("Failed to add file %s: %v", name, err)
		}
	}
	for _, name := range remove {
		if _, err := workTree.Remove(name); err != nil {
			t.Fatalf("Failed to remove file %s: %v", name, err)
		}
	}

	hash, err := workTree.Commit(message, &git.CommitOptions{
		Author:            Signature(),
		AllowEmptyCommits: len(files) == 0 && len(remove) == 0,
	})
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	return hash.String()
}

// WriteFile writes a file into the working tree without staging it
func (r *Repo) WriteFile(t *testing.T, name, content string) {
	t.Helper()

	path := filepath.Join(r.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", name, err)
	}
}

// Head returns the full hash of HEAD
func (r *Repo) Head(t *testing.T) string {
	t.Helper()

	ref, err := r.repo.Head()
	if err != nil {
		t.Fatalf("Failed to get HEAD: %v", err)
	}
	return ref.Hash().String()
}

// Lock creates .git/index.lock as a crashed git process would leave it
func (r *Repo) Lock(t *testing.T) {
	t.Helper()

	path := filepath.Join(r.Dir, git.GitDirName, "index.lock")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("Failed to create index lock: %v", err)
	}
}
