package fileio

import (
	"path/filepath"
	"strings"
)

// DefaultRestrictedPrefixes hides dotenv files and their variants.
var DefaultRestrictedPrefixes = []string{".env"}

// Filter hides and refuses file names that start with any of Prefixes. It is
// applied to the final path component only, so directories whose names do
// not match are still traversable.
type Filter struct {
	Prefixes []string
}

// DefaultFilter returns a Filter using [DefaultRestrictedPrefixes].
func DefaultFilter() Filter {
	return Filter{Prefixes: append([]string(nil), DefaultRestrictedPrefixes...)}
}

// Restricted reports whether the last element of p starts with a restricted
// prefix. p is cleaned first, so "dir/.env/" and "dir/x/../.env" both match.
func (f Filter) Restricted(p string) bool {
	base := filepath.Base(filepath.Clean(p))
	for _, prefix := range f.Prefixes {
		if prefix != "" && strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

// RestrictedPath is [Filter.Restricted] extended to the symlink-resolved
// target of p. Paths that cannot be resolved are judged lexically only.
func (f Filter) RestrictedPath(p string) bool {
	if f.Restricted(p) {
		return true
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return false
	}
	return f.Restricted(resolved)
}
