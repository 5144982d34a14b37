// Package pathutil provides helpers for slash-separated archive entry names.
package pathutil

import "strings"

// Clean strips any leading "./" and "/" elements so that names written by
// different tools compare equal. Case and inner elements are preserved.
func Clean(name string) string {
	for {
		switch {
		case strings.HasPrefix(name, "./"):
			name = name[2:]
		case strings.HasPrefix(name, "/"):
			name = name[1:]
		default:
			return name
		}
	}
}

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	if path == "" || path == "." {
		return "."
	}
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Stem returns Base(path) without its extension.
func Stem(path string) string {
	base := Base(path)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

// Child extracts the immediate child name from a full path given a prefix.
// It reports whether the child is a subdirectory (has more path components)
// and false for ok if path does not start with prefix.
func Child(path, prefix string) (name string, isSubDir, ok bool) {
	relPath, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return "", false, false
	}
	if idx := strings.Index(relPath, "/"); idx >= 0 {
		return relPath[:idx], true, true
	}
	return relPath, false, true
}
