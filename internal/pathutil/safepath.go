// Package pathutil validates request paths before they reach a filesystem.
package pathutil

import (
	"io/fs"
	"path"
	"strings"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CleanLogical turns a URL-facing path into a slash-separated name relative
// to a content root. The root itself comes back as "". ok is false when the
// path could escape the root or is not a valid fs.FS name.
func CleanLogical(p string) (name string, ok bool) {
	if strings.ContainsAny(p, "\x00\\") {
		return "", false
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return "", true
	}
	if HasDotSegments(p) {
		return "", false
	}
	p = path.Clean(p)
	if !fs.ValidPath(p) {
		return "", false
	}
	return p, true
}
