// Package pattern compiles the glob lists used to ignore, whitelist and track
// files in the working tree.
package pattern

import (
	"path"
	"slices"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Set is a compiled list of glob patterns. A nil *Set matches nothing.
type Set struct {
	patterns []string
	matcher  *gitignore.GitIgnore
}

// Names compiles patterns that apply to a single path element, such as
// "*.pyc" or "__pycache__", wherever it occurs.
func Names(patterns []string) *Set {
	s := &Set{patterns: clean(patterns)}
	if len(s.patterns) > 0 {
		s.matcher = gitignore.CompileIgnoreLines(s.patterns...)
	}
	return s
}

// Paths compiles slash-separated relative path patterns such as "src/*.go".
// The directory part must match exactly and the glob applies to the file name
// only, so "*.go" matches top-level files but not "src/a.go".
func Paths(patterns []string) *Set {
	s := &Set{patterns: clean(patterns)}
	if len(s.patterns) > 0 {
		anchored := make([]string, len(s.patterns))
		for i, p := range s.patterns {
			anchored[i] = "/" + p
		}
		s.matcher = gitignore.CompileIgnoreLines(anchored...)
	}
	return s
}

func clean(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
		p = strings.TrimPrefix(p, "./")
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Match reports whether p matches any pattern in the set.
func (s *Set) Match(p string) bool {
	if s == nil || s.matcher == nil {
		return false
	}
	return s.matcher.MatchesPath(p)
}

// MatchFile is Match restricted to the file itself: a pattern that names one of
// the file's parent directories does not count.
func (s *Set) MatchFile(p string) bool {
	if !s.Match(p) {
		return false
	}
	dir := path.Dir(p)
	if dir == "." {
		return true
	}
	for _, pattern := range s.patterns {
		if path.Dir(pattern) == dir || strings.Contains(path.Dir(pattern), "*") {
			return true
		}
	}
	return false
}

func (s *Set) Empty() bool {
	return s == nil || len(s.patterns) == 0
}

func (s *Set) Patterns() []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.patterns)
}

// Filter holds the global ignore configuration for a walk.
type Filter struct {
	Files          *Set
	FilesWhitelist *Set
	Dirs           *Set
	DirsWhitelist  *Set
}

// IgnoreFile reports whether a file with base name name is ignored.
func (f Filter) IgnoreFile(name string) bool {
	return f.Files.Match(name) && !f.FilesWhitelist.Match(name)
}

// IgnoreDir reports whether a directory with base name name is pruned.
func (f Filter) IgnoreDir(name string) bool {
	return f.Dirs.Match(name) && !f.DirsWhitelist.Match(name)
}

// Union merges pattern lists keeping first-seen order.
func Union(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, p := range list {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}
