package vfs

import (
	"regexp"
	"strings"
)

// globToRegexp translates a '*'/'?' glob pattern into an anchored regular
// expression, per spec.md §4.4's "converts a glob to a regex-like matcher".
// The pack's only glob library (gobwas/glob) sits in the teacher's
// image-build path, so this builds directly on stdlib regexp instead.
func globToRegexp(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	if !caseSensitive {
		b.WriteString("(?i)")
	}
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Search finds every entry under root (root itself excluded) whose name matches
// pattern. If recursive is false, only root's immediate children are
// considered.
func (fs *Filesystem) Search(root *Entry, pattern string, recursive bool) ([]*Entry, error) {
	re, err := globToRegexp(pattern, fs.CaseSensitive())
	if err != nil {
		return nil, err
	}
	var out []*Entry
	if err := fs.searchWalk(root, re, recursive, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (fs *Filesystem) searchWalk(dir *Entry, re *regexp.Regexp, recursive bool, out *[]*Entry) error {
	children, err := dir.Children()
	if err != nil {
		return err
	}
	for _, c := range children {
		if re.MatchString(c.Name()) {
			*out = append(*out, c)
		}
		if recursive && c.IsDir() {
			if err := fs.searchWalk(c, re, recursive, out); err != nil {
				return err
			}
		}
	}
	return nil
}
