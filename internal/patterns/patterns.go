// Package patterns holds the table that maps configuration subsystems to the
// repository paths that affect them.
package patterns

import (
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
)

// Table maps subsystem names to glob patterns and lists the globs whose
// changes cannot be hot-applied. A Table is immutable once built.
type Table struct {
	reload  map[string][]string
	restart []string
}

// defaultReload is the built-in subsystem table for a Home Assistant style configuration repository
var defaultReload = map[string][]string{
	"group":          {"groups.yaml", "configuration.yaml"},
	"automation":     {"automations.yaml", "automations/*.yaml"},
	"script":         {"scripts.yaml", "scripts/*.yaml"},
	"scene":          {"scenes.yaml", "scenes/*.yaml"},
	"input_boolean":  {"configuration.yaml"},
	"input_select":   {"configuration.yaml"},
	"input_text":     {"configuration.yaml"},
	"input_number":   {"configuration.yaml"},
	"input_datetime": {"configuration.yaml"},
	"template":       {"configuration.yaml", "templates/*.yaml"},
}

var defaultRestart = []string{
	"configuration.yaml",
	"customize.yaml",
	"packages/*.yaml",
}

// Default returns the built-in pattern table
func Default() *Table {
	t, err := New(defaultReload, defaultRestart)
	if err != nil {
		// built-in patterns are constants
		panic(fmt.Sprintf("invalid default pattern table: %v", err))
	}
	return t
}

// New builds a table from the given reload mapping and restart list.
// Every pattern must be a valid shell glob; recursive "**" is rejected.
func New(reload map[string][]string, restart []string) (*Table, error) {
	t := &Table{
		reload:  make(map[string][]string, len(reload)),
		restart: make([]string, 0, len(restart)),
	}

	for subsystem, globs := range reload {
		if strings.TrimSpace(subsystem) == "" {
			return nil, fmt.Errorf("subsystem name cannot be empty")
		}
		if len(globs) == 0 {
			return nil, fmt.Errorf("subsystem %q: at least one pattern is required", subsystem)
		}
		for _, g := range globs {
			if err := validateGlob(g); err != nil {
				return nil, fmt.Errorf("subsystem %q: %w", subsystem, err)
			}
		}
		t.reload[subsystem] = slices.Clone(globs)
	}

	for _, g := range restart {
		if err := validateGlob(g); err != nil {
			return nil, fmt.Errorf("restart patterns: %w", err)
		}
		t.restart = append(t.restart, g)
	}

	return t, nil
}

func validateGlob(g string) error {
	if g == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if strings.Contains(g, "**") {
		return fmt.Errorf("pattern %q: recursive wildcards are not supported", g)
	}
	if strings.HasPrefix(g, "/") {
		return fmt.Errorf("pattern %q: must be repository-relative", g)
	}
	if _, err := path.Match(g, ""); err != nil {
		return fmt.Errorf("pattern %q: %w", g, err)
	}
	return nil
}

// Subsystems returns the subsystem names in sorted order
func (t *Table) Subsystems() []string {
	return slices.Sorted(maps.Keys(t.reload))
}

// ReloadPatterns returns a copy of the patterns registered for a subsystem
func (t *Table) ReloadPatterns(subsystem string) []string {
	return slices.Clone(t.reload[subsystem])
}

// RestartPatterns returns a copy of the restart-forcing patterns
func (t *Table) RestartPatterns() []string {
	return slices.Clone(t.restart)
}

// Extend returns a new table holding the receiver's entries overlaid with other's.
// Subsystems present in both take other's patterns; restart globs are merged.
func (t *Table) Extend(other *Table) *Table {
	merged := &Table{
		reload:  make(map[string][]string, len(t.reload)+len(other.reload)),
		restart: slices.Clone(t.restart),
	}
	for k, v := range t.reload {
		merged.reload[k] = slices.Clone(v)
	}
	for k, v := range other.reload {
		merged.reload[k] = slices.Clone(v)
	}
	for _, g := range other.restart {
		if !slices.Contains(merged.restart, g) {
			merged.restart = append(merged.restart, g)
		}
	}
	return merged
}

// Match reports whether a repository-relative path matches a glob.
// "*" never crosses a directory separator and matching is case-sensitive.
func Match(pattern, file string) bool {
	ok, err := path.Match(pattern, strings.TrimPrefix(file, "./"))
	return err == nil && ok
}
