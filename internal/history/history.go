// Package history keeps a persistent log of finished deployment attempts.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 50

// Record is one finished deployment attempt
type Record struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	AttemptID       string    `gorm:"uniqueIndex;size:64" json:"attempt_id"`
	Trigger         string    `gorm:"size:32" json:"trigger"`
	Status          string    `gorm:"size:32;index" json:"status"`
	CommitSHA       string    `gorm:"size:40" json:"commit_sha,omitempty"`
	CommitMessage   string    `json:"commit_message,omitempty"`
	ChangedFiles    []string  `gorm:"serializer:json" json:"changed_files,omitempty"`
	ReloadedDomains []string  `gorm:"serializer:json" json:"reloaded_domains,omitempty"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `gorm:"index" json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Duration returns how long the attempt ran
func (r *Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists deployment records
type Store interface {
	Record(ctx context.Context, rec *Record) error
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// SQLiteStore implements Store on a SQLite database file
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens or creates the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("failed to configure history database: %w", err)
		}
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Record implements Store
func (s *SQLiteStore) Record(ctx context.Context, rec *Record) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record deployment %s: %w", rec.AttemptID, err)
	}
	return nil
}

// List returns the newest records first
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var records []Record
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return records, nil
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
