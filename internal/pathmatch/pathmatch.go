// Package pathmatch matches repository-relative paths against shell-style
// patterns.
package pathmatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// metaChars are the characters that turn a path into a pattern
const metaChars = "*?[{"

// IsPattern reports whether p contains glob metacharacters
func IsPattern(p string) bool {
	return strings.ContainsAny(p, metaChars)
}

// Matcher matches slash-separated relative paths against one pattern.
// Matching is case-sensitive and "*" also matches "/".
type Matcher struct {
	pattern string
	g       glob.Glob
}

// Compile parses pattern
func Compile(pattern string) (*Matcher, error) {
	// No separators: "*" crosses directory boundaries like fnmatch does
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &Matcher{pattern: pattern, g: g}, nil
}

// Match reports whether path matches
func (m *Matcher) Match(path string) bool {
	return m.g.Match(path)
}

// Filter returns the sorted subset of paths matching pattern
func Filter(pattern string, paths []string) ([]string, error) {
	m, err := Compile(pattern)
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, p := range paths {
		if m.Match(p) {
			matched = append(matched, p)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Discover finds all files below dir and returns their slash-separated paths
// relative to dir. The .git directory is skipped. A missing dir yields no files.
func Discover(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == dir && os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}

		if info.IsDir() {
			if path != dir && info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})

	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
