package utils

import (
	"fmt"
	"path"
	"strings"
)

// Separator is the path separator of the virtual namespace regardless of host OS.
const Separator = "/"

// CleanPath normalises p into an absolute, slash-separated path without a trailing
// separator. The empty path maps to the root.
//
// Example usage:
//
//	CleanPath("a/b/../c/") // "/a/c"
func CleanPath(p string) string {
	if !strings.HasPrefix(p, Separator) {
		p = Separator + p
	}
	return path.Clean(p)
}

// Components splits p into its components. The root counts as a component, so
// "/a/b/c" yields ["/", "a", "b", "c"] and "/" yields ["/"].
func Components(p string) []string {
	clean := CleanPath(p)
	if clean == Separator {
		return []string{Separator}
	}
	return append([]string{Separator}, strings.Split(clean[1:], Separator)...)
}

// ComponentCount returns len(Components(p)).
func ComponentCount(p string) int {
	clean := CleanPath(p)
	if clean == Separator {
		return 1
	}
	return strings.Count(clean, Separator) + 1
}

// HasPathPrefix reports whether p starts with prefix comparing whole components,
// so "/ab" does not start with "/a". Equal paths are prefixes of each other.
func HasPathPrefix(p, prefix string) bool {
	p, prefix = CleanPath(p), CleanPath(prefix)
	if prefix == Separator || p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+Separator)
}

// HasStrictPathPrefix is HasPathPrefix excluding equality.
func HasStrictPathPrefix(p, prefix string) bool {
	return CleanPath(p) != CleanPath(prefix) && HasPathPrefix(p, prefix)
}

// TrimPathPrefix strips prefix from p and returns the remainder as an absolute path.
// The boolean is false when prefix is not a component-wise prefix of p.
//
// Example usage:
//
//	rest, ok := TrimPathPrefix("/a/b/c", "/a") // "/b/c", true
func TrimPathPrefix(p, prefix string) (string, bool) {
	if !HasPathPrefix(p, prefix) {
		return "", false
	}
	p, prefix = CleanPath(p), CleanPath(prefix)
	if prefix == Separator {
		return p, true
	}
	return CleanPath(strings.TrimPrefix(p, prefix)), true
}

// ParentPath returns the parent of p. The root has no parent.
func ParentPath(p string) (string, bool) {
	clean := CleanPath(p)
	if clean == Separator {
		return "", false
	}
	return path.Dir(clean), true
}

// BaseName returns the last component of p. The root yields "/".
func BaseName(p string) string {
	return path.Base(CleanPath(p))
}

// JoinPath joins elements onto base and cleans the result.
func JoinPath(base string, elems ...string) string {
	return CleanPath(path.Join(append([]string{base}, elems...)...))
}

// ValidatePath validates a caller-supplied namespace path.
//
// Returns an error if the path:
//   - is empty
//   - is not absolute
//   - contains a NUL byte
//   - uses ".." to climb above the root
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !strings.HasPrefix(p, Separator) {
		return fmt.Errorf("path must be absolute: %s", p)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains NUL byte: %q", p)
	}

	depth := 0
	for _, part := range strings.Split(p, Separator) {
		switch part {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return fmt.Errorf("path contains directory traversal: %s", p)
			}
		default:
			depth++
		}
	}
	return nil
}

// SecureJoin places a within-storage path under base. The within path is cleaned
// as an absolute path first, so ".." can never escape base.
//
// Example usage:
//
//	SecureJoin("/data", "/../etc/passwd") // "/data/etc/passwd"
func SecureJoin(base, within string) string {
	return JoinPath(CleanPath(base), CleanPath(within))
}
