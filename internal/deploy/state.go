package deploy

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/stacklok/gitops-agent/internal/git"
)

// Status is a state of the deployment state machine
type Status string

const (
	StatusIdle            Status = "idle"
	StatusDeploying       Status = "deploying"
	StatusValidating      Status = "validating"
	StatusReloading       Status = "reloading"
	StatusSuccess         Status = "success"
	StatusFailed          Status = "failed"
	StatusRestartRequired Status = "restart_required"
)

// Terminal reports whether s ends an attempt
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusRestartRequired
}

// DeploymentState describes the current or last deployment attempt
type DeploymentState struct {
	Status          Status    `json:"status"`
	AttemptID       string    `json:"attempt_id,omitempty"`
	Trigger         string    `json:"trigger,omitempty"`
	CommitSHA       string    `json:"commit_sha,omitempty"`
	CommitMessage   string    `json:"commit_message,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitzero"`
	Error           string    `json:"error,omitempty"`
	ChangedFiles    []string  `json:"changed_files"`
	ReloadDomains   []string  `json:"reload_domains"`
	RestartRequired bool      `json:"restart_required"`
}

func (s DeploymentState) clone() DeploymentState {
	s.ChangedFiles = slices.Clone(s.ChangedFiles)
	s.ReloadDomains = slices.Clone(s.ReloadDomains)
	return s
}

// GitState compares the working copy with its upstream as of the last check
type GitState struct {
	LocalSHA      string       `json:"local_sha,omitempty"`
	LocalMessage  string       `json:"local_message,omitempty"`
	RemoteSHA     string       `json:"remote_sha,omitempty"`
	RemoteMessage string       `json:"remote_message,omitempty"`
	CommitsBehind int          `json:"commits_behind"`
	CommitLog     []git.Commit `json:"commit_log"`
	LastCheck     time.Time    `json:"last_check,omitzero"`
}

// UpdateAvailable is derived from CommitsBehind
func (s GitState) UpdateAvailable() bool {
	return s.CommitsBehind > 0
}

// MarshalJSON adds the derived update_available field
func (s GitState) MarshalJSON() ([]byte, error) {
	type plain GitState
	return json.Marshal(struct {
		plain
		UpdateAvailable bool `json:"update_available"`
	}{plain: plain(s), UpdateAvailable: s.UpdateAvailable()})
}

func (s GitState) clone() GitState {
	s.CommitLog = slices.Clone(s.CommitLog)
	return s
}

// Trigger describes what started a deployment
type Trigger struct {
	// Source is "webhook", "update_install" or "api"
	Source string

	// Payload is the opaque request body, journaled as-is
	Payload json.RawMessage
}

// EventStatus names a progress event
type EventStatus string

const (
	EventStarted         EventStatus = "started"
	EventPulling         EventStatus = "pulling"
	EventPulled          EventStatus = "pulled"
	EventSecretsSynced   EventStatus = "secrets_synced"
	EventSecretsFailed   EventStatus = "secrets_failed"
	EventValidating      EventStatus = "validating"
	EventValidated       EventStatus = "validated"
	EventReloading       EventStatus = "reloading"
	EventSuccess         EventStatus = "success"
	EventRestartRequired EventStatus = "restart_required"
	EventFailed          EventStatus = "failed"

	// EventError is sent by transports when the coordinator could not run at all
	EventError EventStatus = "error"
)

// Event is one progress update of a deployment attempt
type Event struct {
	Status          EventStatus `json:"status"`
	Message         string      `json:"message,omitempty"`
	AttemptID       string      `json:"attempt_id,omitempty"`
	CommitSHA       string      `json:"commit_sha,omitempty"`
	CommitMessage   string      `json:"commit_message,omitempty"`
	ChangedFiles    []string    `json:"changed_files,omitempty"`
	ReloadedDomains []string    `json:"reloaded_domains,omitempty"`
	SecretCount     *int        `json:"secret_count,omitempty"`
	Error           string      `json:"error,omitempty"`
	Timestamp       time.Time   `json:"timestamp"`
}

// Sink receives the progress events of a single attempt. It is called from
// the deploying goroutine and must not block for long.
type Sink func(Event)
