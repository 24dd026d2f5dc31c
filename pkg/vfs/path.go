package vfs

import "strings"

// splitPath splits a path on both '/' and '\', discarding empty
// components, per spec.md §4.4's getDirectoryEntry. "", "\\", and "/" all
// split to zero components (the root's self-entry).
func splitPath(path string) []string {
	path = strings.ReplaceAll(path, `\`, "/")
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isAbsolute(path string) bool {
	return strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`)
}
