// Package journal records in-flight deployments so that a deployment cut
// short by a crash can be reported after restart.
package journal

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the recorded state of a deployment attempt
type Status string

const (
	// StatusStarted is written before any repository mutation
	StatusStarted Status = "started"

	// StatusSuccess is written when the attempt succeeded or needs a restart
	StatusSuccess Status = "success"

	// StatusFailed is written when the attempt failed
	StatusFailed Status = "failed"
)

// Entry is the on-disk journal document
type Entry struct {
	Status        Status          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
	CommitSHA     string          `json:"commit_sha"`
	CommitMessage string          `json:"commit_message"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
	AttemptID     string          `json:"attempt_id,omitempty"`
}

// Attempt identifies the deployment attempt being journaled
type Attempt struct {
	ID            string
	StartedAt     time.Time
	CommitSHA     string
	CommitMessage string
	Payload       json.RawMessage
}

// Interrupted describes a deployment whose terminal entry was never written
type Interrupted struct {
	AttemptID     string          `json:"attempt_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CommitSHA     string          `json:"commit_sha"`
	CommitMessage string          `json:"commit_message"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Journal persists the state of the current deployment attempt
type Journal interface {
	// WriteStart records that attempt has started
	WriteStart(ctx context.Context, attempt Attempt) error

	// WriteOutcome records the terminal status of attempt
	WriteOutcome(ctx context.Context, attempt Attempt, status Status, errMsg string) error

	// CheckOnStartup reports the attempt left in StatusStarted, or nil
	CheckOnStartup(ctx context.Context) (*Interrupted, error)

	// Load returns the last entry, or nil when nothing was journaled yet
	Load(ctx context.Context) (*Entry, error)
}
