// Package host talks to the system whose configuration the agent deploys.
package host

//go:generate mockgen -destination=mocks/mock_host.go -package=mocks -source=host.go Host

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfiguration is returned when the host rejects the deployed configuration
	ErrInvalidConfiguration = errors.New("configuration is invalid")

	// ErrReloadTimeout is returned when a subsystem reload exceeds its time budget
	ErrReloadTimeout = errors.New("reload timed out")
)

// Host validates and reloads configuration on the managed system
type Host interface {
	// ValidateConfiguration asks the host to check the configuration on disk
	ValidateConfiguration(ctx context.Context) error

	// ReloadSubsystem reloads a single subsystem, bounded by the reload timeout
	ReloadSubsystem(ctx context.Context, name string) error
}
