package git

import "errors"

var (
	// ErrRepositoryUnavailable is returned when the working copy cannot be opened
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrGitLocked is returned when .git/index.lock exists before a pull
	ErrGitLocked = errors.New("git lock file detected")

	// ErrPullFailed wraps fetch, merge and fast-forward failures during a pull
	ErrPullFailed = errors.New("pull failed")

	// ErrFetchFailed wraps transport failures during an update check
	ErrFetchFailed = errors.New("fetch failed")

	// ErrNoUpstream is returned when the tracked remote branch does not exist
	ErrNoUpstream = errors.New("no upstream tracking branch")
)
