// Package reload decides which configuration subsystems must be reloaded
// for a set of changed files, and whether a full restart is needed instead.
package reload

import (
	"slices"

	"github.com/stacklok/gitops-agent/internal/patterns"
)

// Decision is the outcome of classifying a set of changed files
type Decision struct {
	// Domains is the sorted set of subsystems whose patterns matched
	Domains []string `json:"reload_domains"`

	// RestartRequired is true when any file matched a restart-forcing pattern.
	// When set, Domains is informational only and no reload is issued.
	RestartRequired bool `json:"restart_required"`

	// RestartMatches lists the changed files that forced the restart
	RestartMatches []string `json:"restart_matches,omitempty"`
}

// Classify maps changed files onto the pattern table. The result does not
// depend on the order of changedFiles.
func Classify(changedFiles []string, table *patterns.Table) Decision {
	if table == nil {
		table = patterns.Default()
	}

	domains := make(map[string]struct{})
	for _, subsystem := range table.Subsystems() {
		if anyMatch(table.ReloadPatterns(subsystem), changedFiles) {
			domains[subsystem] = struct{}{}
		}
	}

	var restartMatches []string
	restart := table.RestartPatterns()
	for _, file := range changedFiles {
		for _, pattern := range restart {
			if patterns.Match(pattern, file) {
				restartMatches = append(restartMatches, file)
				break
			}
		}
	}
	slices.Sort(restartMatches)
	restartMatches = slices.Compact(restartMatches)

	d := Decision{
		Domains:         make([]string, 0, len(domains)),
		RestartRequired: len(restartMatches) > 0,
		RestartMatches:  restartMatches,
	}
	for domain := range domains {
		d.Domains = append(d.Domains, domain)
	}
	slices.Sort(d.Domains)
	return d
}

func anyMatch(globs, files []string) bool {
	for _, g := range globs {
		for _, f := range files {
			if patterns.Match(g, f) {
				return true
			}
		}
	}
	return false
}
