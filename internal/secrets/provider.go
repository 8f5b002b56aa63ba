// Package secrets provisions externally managed secrets into the working copy.
//
// A Provider lists key/value secrets from an external service. The Engine
// writes them to a generated secrets_<provider>.yaml file and makes sure the
// primary secrets file includes it.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go Provider

var (
	// ErrAuthentication is returned when a provider rejects the credentials
	ErrAuthentication = errors.New("secret provider authentication failed")

	// ErrForbidden is returned when the credentials lack access to the scope
	ErrForbidden = errors.New("secret provider denied access")

	// ErrMultipleStaleIncludes is returned when the primary file includes
	// generated files of more than one other provider
	ErrMultipleStaleIncludes = errors.New("multiple stale secret includes")
)

// Secret is a single named secret value
type Secret struct {
	Name  string
	Value string
}

// Scope selects the slice of the provider's secrets to list
type Scope struct {
	Project     string
	Environment string
	Path        string
}

// String describes the scope for the generated file header
func (s Scope) String() string {
	switch {
	case s.Path != "" && s.Environment != "":
		return fmt.Sprintf("%s path in %s environment", s.Path, s.Environment)
	case s.Environment != "":
		return fmt.Sprintf("%s environment", s.Environment)
	case s.Project != "":
		return s.Project
	default:
		return "default"
	}
}

// Provider lists secrets from an external secret manager
type Provider interface {
	// Name is the short identifier used in file names, e.g. "infisical"
	Name() string

	// DisplayName is the human readable provider name, e.g. "Infisical"
	DisplayName() string

	// ListSecrets returns every secret in scope
	ListSecrets(ctx context.Context, scope Scope) ([]Secret, error)
}
