package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Acquire when another process holds the journal
var ErrLocked = errors.New("journal is locked by another process")

// FileJournal stores the journal as a single JSON file, overwritten on each write
type FileJournal struct {
	path string
	lock *flock.Flock

	mu sync.Mutex
}

// NewFileJournal creates a journal stored at path
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the journal file path
func (j *FileJournal) Path() string {
	return j.path
}

// Acquire takes an advisory lock so only one agent writes the journal.
// Read-only users such as the CLI do not need it.
func (j *FileJournal) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o750); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	locked, err := j.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, j.lock.Path())
	}
	return nil
}

// Release drops the advisory lock
func (j *FileJournal) Release() error {
	return j.lock.Unlock()
}

// WriteStart implements Journal
func (j *FileJournal) WriteStart(ctx context.Context, attempt Attempt) error {
	return j.write(ctx, newEntry(attempt, StatusStarted, ""))
}

// WriteOutcome implements Journal
func (j *FileJournal) WriteOutcome(ctx context.Context, attempt Attempt, status Status, errMsg string) error {
	return j.write(ctx, newEntry(attempt, status, errMsg))
}

func newEntry(attempt Attempt, status Status, errMsg string) *Entry {
	return &Entry{
		Status:        status,
		Timestamp:     attempt.StartedAt.UTC(),
		CommitSHA:     attempt.CommitSHA,
		CommitMessage: attempt.CommitMessage,
		Payload:       attempt.Payload,
		Error:         errMsg,
		AttemptID:     attempt.ID,
	}
}

func (j *FileJournal) write(_ context.Context, entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o750); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := j.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary journal file: %w", err)
	}
	if err := os.Rename(tempPath, j.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename journal file: %w", err)
	}

	slog.Debug("Journal written", "status", entry.Status, "attempt_id", entry.AttemptID)
	return nil
}

// Load implements Journal
func (j *FileJournal) Load(_ context.Context) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// #nosec G304 -- path comes from configuration
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal: %w", err)
	}
	return &entry, nil
}

// CheckOnStartup implements Journal
func (j *FileJournal) CheckOnStartup(ctx context.Context) (*Interrupted, error) {
	entry, err := j.Load(ctx)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Status != StatusStarted {
		return nil, nil
	}

	slog.Warn("Previous deployment was interrupted",
		"attempt_id", entry.AttemptID,
		"timestamp", entry.Timestamp,
		"commit", entry.CommitSHA,
	)
	return &Interrupted{
		AttemptID:     entry.AttemptID,
		Timestamp:     entry.Timestamp,
		CommitSHA:     entry.CommitSHA,
		CommitMessage: entry.CommitMessage,
		Payload:       entry.Payload,
	}, nil
}
