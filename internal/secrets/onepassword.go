package secrets

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/1password/onepassword-sdk-go"

	"github.com/stacklok/gitops-agent/internal/versions"
)

// OnePasswordReferencePrefix is the scheme of a 1Password secret reference
const OnePasswordReferencePrefix = "op://"

// secretResolver is the part of the 1Password SDK the provider uses
type secretResolver interface {
	Resolve(ctx context.Context, secretReference string) (string, error)
}

// OnePasswordProvider resolves a fixed set of op:// references with a
// service account token
type OnePasswordProvider struct {
	items map[string]string

	newResolver func(ctx context.Context) (secretResolver, error)

	mu       sync.Mutex
	resolver secretResolver
}

// NewOnePasswordProvider creates a provider resolving items, a map of secret
// name to op:// reference
func NewOnePasswordProvider(token string, items map[string]string) *OnePasswordProvider {
	return &OnePasswordProvider{
		items: items,
		newResolver: func(ctx context.Context) (secretResolver, error) {
			client, err := onepassword.NewClient(ctx,
				onepassword.WithServiceAccountToken(token),
				onepassword.WithIntegrationInfo("gitops-agent", versions.Version),
			)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
			}
			return client.Secrets(), nil
		},
	}
}

// Name implements Provider
func (*OnePasswordProvider) Name() string { return "onepassword" }

// DisplayName implements Provider
func (*OnePasswordProvider) DisplayName() string { return "1Password" }

// ListSecrets resolves every configured reference. The references themselves
// select vaults and items, so scope is not used.
func (p *OnePasswordProvider) ListSecrets(ctx context.Context, _ Scope) ([]Secret, error) {
	resolver, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(p.items))
	for name := range p.items {
		names = append(names, name)
	}
	slices.Sort(names)

	secrets := make([]Secret, 0, len(names))
	for _, name := range names {
		ref := p.items[name]
		if !strings.HasPrefix(ref, OnePasswordReferencePrefix) {
			return nil, fmt.Errorf("secret %q: reference must start with %s", name, OnePasswordReferencePrefix)
		}
		value, err := resolver.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve secret %q: %w", name, err)
		}
		secrets = append(secrets, Secret{Name: name, Value: value})
	}
	return secrets, nil
}

// client creates the SDK client on first use; creating it authenticates the
// service account
func (p *OnePasswordProvider) client(ctx context.Context) (secretResolver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resolver != nil {
		return p.resolver, nil
	}
	resolver, err := p.newResolver(ctx)
	if err != nil {
		return nil, err
	}
	p.resolver = resolver
	return resolver, nil
}
