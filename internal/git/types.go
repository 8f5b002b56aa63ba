package git

import (
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
)

// ShortSHALength is the number of hex characters reported for a commit
const ShortSHALength = 7

// MaxLogEntries caps the commit log returned by CheckForUpdates
const MaxLogEntries = 20

// Commit describes a single commit
type Commit struct {
	// SHA is the abbreviated commit hash
	SHA string `json:"sha"`

	// Hash is the full commit hash
	Hash string `json:"hash"`

	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateStatus is the result of comparing the local HEAD with the upstream tip
type UpdateStatus struct {
	Local         Commit    `json:"local"`
	Remote        Commit    `json:"remote"`
	CommitsBehind int       `json:"commits_behind"`
	Log           []Commit  `json:"log"`
	CheckedAt     time.Time `json:"checked_at"`
}

// WorkingTreeStatus lists files that differ from HEAD
type WorkingTreeStatus struct {
	// Modified holds tracked files with staged or unstaged changes
	Modified []string `json:"modified"`

	// Untracked holds files git does not know about and does not ignore
	Untracked []string `json:"untracked"`
}

// Clean reports whether the working tree matches HEAD
func (s *WorkingTreeStatus) Clean() bool {
	return len(s.Modified) == 0 && len(s.Untracked) == 0
}

// Count returns the number of drifted files
func (s *WorkingTreeStatus) Count() int {
	return len(s.Modified) + len(s.Untracked)
}

// ShortSHA abbreviates a full hash
func ShortSHA(hash string) string {
	if len(hash) <= ShortSHALength {
		return hash
	}
	return hash[:ShortSHALength]
}

func newCommit(c *object.Commit) Commit {
	hash := c.Hash.String()
	return Commit{
		SHA:       ShortSHA(hash),
		Hash:      hash,
		Message:   strings.TrimSpace(c.Message),
		Author:    c.Author.Name,
		Timestamp: c.Author.When.UTC(),
	}
}
