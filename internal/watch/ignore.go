package watch

import (
	"path"
	"path/filepath"
	"strings"
)

// IgnoreMatcher decides which paths a watcher skips. Global parts match
// any path segment exactly; project patterns are globs applied to the
// root-relative path and to the basename.
type IgnoreMatcher struct {
	globalParts     []string
	projectPatterns []string
}

// NewIgnoreMatcher builds a matcher from the global segment list and the
// project's glob patterns.
func NewIgnoreMatcher(globalParts, projectPatterns []string) *IgnoreMatcher {
	return &IgnoreMatcher{
		globalParts:     globalParts,
		projectPatterns: projectPatterns,
	}
}

// Ignored reports whether the root-relative path rel should be skipped.
func (m *IgnoreMatcher) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}

	for _, segment := range strings.Split(rel, "/") {
		for _, part := range m.globalParts {
			if segment == part {
				return true
			}
		}
	}

	base := path.Base(rel)
	for _, pattern := range m.projectPatterns {
		if ok, err := path.Match(pattern, rel); err == nil && ok {
			return true
		}
		if ok, err := path.Match(pattern, base); err == nil && ok {
			return true
		}
	}
	return false
}
