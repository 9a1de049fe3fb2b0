// Package pathutil holds the path predicate shared by the package
// validator, the content resolver, the document schema and the archive
// stores.
package pathutil

import "strings"

// IsSafeRelative reports whether p is made only of normal relative
// segments: no empty, root, current, parent or drive segments, and no
// NUL or backslash anywhere.
func IsSafeRelative(p string) bool {
	if p == "" {
		return false
	}
	if strings.ContainsAny(p, "\x00\\") {
		return false
	}
	if strings.HasPrefix(p, "/") || hasDrivePrefix(p) {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// C: or c:foo, which windows treats as drive-relative
func hasDrivePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
