package workspace

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnore is applied when no ignore patterns are configured.
var DefaultIgnore = []string{
	".git/**",
	"node_modules/**",
	"**/" + tempPattern,
}

// tempPattern names the in-flight files of atomic writes
const tempPattern = ".deepagent-*.tmp"

// Normalize converts p to a namespace-relative slash path.
// A leading slash is dropped; paths leaving the namespace are rejected.
func Normalize(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrInvalidPath, p)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean(strings.TrimLeft(p, "/"))
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("%w: %q names the workspace root", ErrInvalidPath, p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the workspace", ErrInvalidPath, p)
	}
	return cleaned, nil
}

func normalizePrefix(prefix string) string {
	return strings.TrimLeft(strings.ReplaceAll(prefix, "\\", "/"), "/")
}

// matchesAny reports whether rel matches one of the doublestar patterns.
func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// dirMayContain reports whether directory dir can hold paths with prefix.
func dirMayContain(dir, prefix string) bool {
	if prefix == "" {
		return true
	}
	d := dir + "/"
	return strings.HasPrefix(prefix, d) || strings.HasPrefix(d, prefix)
}
