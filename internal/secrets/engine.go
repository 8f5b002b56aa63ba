package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/gitops-agent/internal/config"
)

// IncludeAction describes what EnsureIncluded did to the primary file
type IncludeAction string

const (
	// IncludeCreated means the primary file did not exist and was created
	IncludeCreated IncludeAction = "created"

	// IncludeUnchanged means the primary file already included the generated file
	IncludeUnchanged IncludeAction = "unchanged"

	// IncludePrepended means the include was added above the existing content
	IncludePrepended IncludeAction = "prepended"

	// IncludeMigrated means another provider's include was replaced in place
	IncludeMigrated IncludeAction = "migrated"
)

// DefaultPrimaryFile is the secrets file the host loads
const DefaultPrimaryFile = "secrets.yaml"

// GeneratedPattern matches every provider's generated file
const GeneratedPattern = "secrets_*.yaml"

var (
	// only generated files count; other secrets_*.yaml includes belong to the user
	includePattern = regexp.MustCompile(`(?m)^<<:[ \t]*!include[ \t]+secrets_(` +
		strings.Join([]string{config.ProviderInfisical, config.ProviderDoppler, config.ProviderOnePassword}, "|") +
		`)\.yaml[ \t]*$`)
	commentPattern = regexp.MustCompile(`(?m)^# .+ secrets \(managed by GitOps integration\)[ \t]*$`)
)

// Engine writes a provider's secrets into the working copy
type Engine struct {
	provider    Provider
	scope       Scope
	dir         string
	primaryFile string
	now         func() time.Time

	// mu serialises syncs from the deploy path and the refresh webhook
	mu sync.Mutex
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithScope sets the scope passed to the provider
func WithScope(scope Scope) EngineOption {
	return func(e *Engine) {
		e.scope = scope
	}
}

// WithPrimaryFile sets the primary secrets file, relative to the working copy
func WithPrimaryFile(name string) EngineOption {
	return func(e *Engine) {
		if name != "" {
			e.primaryFile = name
		}
	}
}

// NewEngine creates an Engine writing into the working copy at dir
func NewEngine(provider Provider, dir string, opts ...EngineOption) *Engine {
	e := &Engine{
		provider:    provider,
		dir:         dir,
		primaryFile: DefaultPrimaryFile,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Provider returns the configured provider
func (e *Engine) Provider() Provider {
	return e.provider
}

// GeneratedFile returns the generated file name, e.g. secrets_doppler.yaml
func (e *Engine) GeneratedFile() string {
	return generatedFileName(e.provider.Name())
}

func generatedFileName(provider string) string {
	return fmt.Sprintf("secrets_%s.yaml", provider)
}

func (e *Engine) includeLine() string {
	return "<<: !include " + e.GeneratedFile()
}

func (e *Engine) includeComment() string {
	return fmt.Sprintf("# %s secrets (managed by GitOps integration)", e.provider.DisplayName())
}

// Sync lists the provider's secrets, writes the generated file atomically and
// ensures the primary file includes it. It returns the number of secrets written.
func (e *Engine) Sync(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	secrets, err := e.provider.ListSecrets(ctx, e.scope)
	if err != nil {
		return 0, fmt.Errorf("failed to list secrets from %s: %w", e.provider.DisplayName(), err)
	}

	content, count, err := e.render(secrets)
	if err != nil {
		return 0, err
	}

	path := filepath.Join(e.dir, e.GeneratedFile())
	if err := writeFileAtomic(path, content, 0o600); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", e.GeneratedFile(), err)
	}

	action, err := e.ensureIncluded()
	if err != nil {
		return 0, err
	}

	slog.Info("Synced secrets",
		"provider", e.provider.Name(),
		"count", count,
		"file", e.GeneratedFile(),
		"include", string(action),
	)
	return count, nil
}

// render produces the generated file. Duplicate names keep the last value.
func (e *Engine) render(secrets []Secret) ([]byte, int, error) {
	values := make(map[string]string, len(secrets))
	for _, s := range secrets {
		if s.Name == "" {
			continue
		}
		values[s.Name] = s.Value
	}

	var b strings.Builder
	b.WriteString("# Managed by GitOps agent - DO NOT EDIT MANUALLY\n")
	fmt.Fprintf(&b, "# Synced from %s at %s\n", e.provider.DisplayName(), e.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# Source: %s\n\n", e.scope)

	if len(values) > 0 {
		// yaml.v3 sorts map keys and quotes values that need it
		body, err := yaml.Marshal(values)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode secrets: %w", err)
		}
		b.Write(body)
	} else {
		b.WriteString("{}\n")
	}
	return []byte(b.String()), len(values), nil
}

// EnsureIncluded makes the primary secrets file include the generated file
func (e *Engine) EnsureIncluded() (IncludeAction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureIncluded()
}

func (e *Engine) ensureIncluded() (IncludeAction, error) {
	path := filepath.Join(e.dir, e.primaryFile)

	// #nosec G304 -- path is the configured primary file inside the working copy
	existing, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		content := e.includeComment() + "\n" + e.includeLine() + "\n\n# Your manual secrets here\n"
		if err := writeFileAtomic(path, []byte(content), 0o600); err != nil {
			return "", fmt.Errorf("failed to create %s: %w", e.primaryFile, err)
		}
		slog.Info("Created primary secrets file", "file", e.primaryFile, "include", e.GeneratedFile())
		return IncludeCreated, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", e.primaryFile, err)
	}

	content := string(existing)
	matches := includePattern.FindAllStringSubmatchIndex(content, -1)

	var stale [][]int
	for _, m := range matches {
		if content[m[2]:m[3]] == e.provider.Name() {
			return IncludeUnchanged, nil
		}
		stale = append(stale, m)
	}

	mode := fileMode(path)

	switch len(stale) {
	case 0:
		updated := e.includeComment() + "\n" + e.includeLine() + "\n\n# Existing secrets\n" + content
		if err := writeFileAtomic(path, []byte(updated), mode); err != nil {
			return "", fmt.Errorf("failed to update %s: %w", e.primaryFile, err)
		}
		slog.Info("Added include to primary secrets file", "file", e.primaryFile, "include", e.GeneratedFile())
		return IncludePrepended, nil

	case 1:
		m := stale[0]
		previous := generatedFileName(content[m[2]:m[3]])
		updated := content[:m[0]] + e.includeLine() + content[m[1]:]
		if loc := commentPattern.FindStringIndex(updated); loc != nil && loc[1] <= m[0] {
			updated = updated[:loc[0]] + e.includeComment() + updated[loc[1]:]
		}
		if err := writeFileAtomic(path, []byte(updated), mode); err != nil {
			return "", fmt.Errorf("failed to update %s: %w", e.primaryFile, err)
		}
		slog.Info("Migrated primary secrets file include",
			"file", e.primaryFile,
			"from", previous,
			"to", e.GeneratedFile(),
		)
		return IncludeMigrated, nil

	default:
		names := make([]string, 0, len(stale))
		for _, m := range stale {
			names = append(names, generatedFileName(content[m[2]:m[3]]))
		}
		return "", fmt.Errorf("%w in %s: %s", ErrMultipleStaleIncludes, e.primaryFile, strings.Join(names, ", "))
	}
}

func fileMode(path string) fs.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return 0o600
	}
	return info.Mode().Perm()
}
