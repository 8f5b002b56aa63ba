package deploy

import "errors"

// Kind classifies why a deployment attempt failed
type Kind string

const (
	KindRepositoryUnavailable Kind = "repository_unavailable"
	KindGitLocked             Kind = "git_locked"
	KindPullFailed            Kind = "pull_failed"
	KindSecretProviderFailed  Kind = "secret_provider_failed"
	KindValidationFailed      Kind = "validation_failed"
	KindReloadFailed          Kind = "reload_failed"
	KindAuthenticationFailed  Kind = "authentication_failed"
	KindJournalIOFailed       Kind = "journal_io_failed"
)

// Error is a deployment failure with its kind
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a deployment error in err's chain, or ""
func KindOf(err error) Kind {
	var deployErr *Error
	if errors.As(err, &deployErr) {
		return deployErr.Kind
	}
	return ""
}
