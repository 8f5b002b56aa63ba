package secrets

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/gitops-agent/internal/httpclient"
)

const (
	defaultMaxTries        = 4
	defaultInitialInterval = 500 * time.Millisecond
)

// retryOptions controls provider request retries
type retryOptions struct {
	maxTries        uint
	initialInterval time.Duration
}

func defaultRetryOptions() retryOptions {
	return retryOptions{maxTries: defaultMaxTries, initialInterval: defaultInitialInterval}
}

// retry runs op with exponential backoff. Authentication failures and 4xx
// responses other than 429 are not retried.
func retry[T any](ctx context.Context, opts retryOptions, provider string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.initialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		result, err := op()
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return result, backoff.Permanent(err)
		}
		slog.Debug("Secret provider request failed, retrying",
			"provider", provider,
			"attempt", attempt,
			"error", err,
		)
		return result, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(opts.maxTries))
}

func retryable(err error) bool {
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrForbidden) {
		return false
	}
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return true
}
