package versions

import "github.com/Masterminds/semver/v3"

// Change describes how a tracked component version moved between two deployments
type Change string

const (
	ChangeUpgrade   Change = "upgrade"
	ChangeDowngrade Change = "downgrade"
	ChangeUnchanged Change = "unchanged"
	// ChangeUnknown is reported when either side is missing
	ChangeUnknown Change = "unknown"
)

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// Non-semver strings are compared lexically.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newSemver, errNew := semver.NewVersion(newVersion)
	oldSemver, errOld := semver.NewVersion(oldVersion)
	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}
	return newSemver.GreaterThan(oldSemver)
}

// Compare classifies the move from oldVersion to newVersion
func Compare(oldVersion, newVersion string) Change {
	switch {
	case oldVersion == "" || newVersion == "":
		return ChangeUnknown
	case IsNewerVersion(newVersion, oldVersion):
		return ChangeUpgrade
	case IsNewerVersion(oldVersion, newVersion):
		return ChangeDowngrade
	default:
		return ChangeUnchanged
	}
}
