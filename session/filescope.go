package session

import "github.com/bmatcuk/doublestar/v4"

// FileScope defines the file/directory boundaries an agent session may touch
// inside its working directory. Patterns use doublestar globs (** supported).
type FileScope struct {
	// Include lists patterns in scope for this session. Empty means all.
	Include []string `json:"include,omitempty"`

	// Exclude lists patterns explicitly out of scope.
	Exclude []string `json:"exclude,omitempty"`

	// DoNotTouch lists protected patterns that must never be modified.
	DoNotTouch []string `json:"do_not_touch,omitempty"`
}

// Allows reports whether a repository-relative path is inside the scope.
// Protected paths are never allowed regardless of Include.
func (fs FileScope) Allows(path string) bool {
	if fs.Protected(path) {
		return false
	}
	for _, pattern := range fs.Exclude {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return false
		}
	}
	if len(fs.Include) == 0 {
		return true
	}
	for _, pattern := range fs.Include {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// Protected reports whether the path matches a do-not-touch pattern.
func (fs FileScope) Protected(path string) bool {
	for _, pattern := range fs.DoNotTouch {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
