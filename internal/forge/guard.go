package forge

import (
	"github.com/bmatcuk/doublestar/v4"
)

// PathGuard matches file paths against protected glob patterns. The pipeline
// refuses to commit changes to protected paths regardless of what the coder
// produced.
type PathGuard struct {
	patterns []string
}

// NewPathGuard builds a guard from doublestar patterns like
// ".github/**" or "**/secrets/*.env". Invalid patterns never match.
func NewPathGuard(patterns []string) *PathGuard {
	return &PathGuard{patterns: patterns}
}

// Protected reports whether path matches any protected pattern.
func (p *PathGuard) Protected(path string) bool {
	for _, pattern := range p.patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
