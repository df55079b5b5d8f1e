package indexer

import (
	"path"
	"path/filepath"
	"strings"
)

// RejectReason names the selector rule that rejected a path.
type RejectReason string

const (
	ReasonNone        RejectReason = ""
	ReasonExtension   RejectReason = "extension"
	ReasonHidden      RejectReason = "hidden"
	ReasonExcludedDir RejectReason = "excluded_dir"
)

// Decision is the outcome of Selector.Check.
type Decision struct {
	Accept bool
	Reason RejectReason
}

// Selector decides which files of a working copy are indexed.
type Selector struct {
	extensions map[string]struct{}
	excluded   map[string]struct{}
	rules      []rule
}

type rule struct {
	reason RejectReason
	reject func(s *Selector, segments []string) bool
}

// NewSelector builds a selector for the given extensions (with leading dot)
// and excluded directory names. Extensions are matched case-insensitively.
func NewSelector(extensions, excludedDirs []string) *Selector {
	s := &Selector{
		extensions: make(map[string]struct{}, len(extensions)),
		excluded:   make(map[string]struct{}, len(excludedDirs)),
	}
	for _, e := range extensions {
		s.extensions[strings.ToLower(e)] = struct{}{}
	}
	for _, d := range excludedDirs {
		s.excluded[d] = struct{}{}
	}
	// Evaluated in order; the first rule that rejects wins.
	s.rules = []rule{
		{ReasonExtension, (*Selector).rejectExtension},
		{ReasonHidden, (*Selector).rejectHidden},
		{ReasonExcludedDir, (*Selector).rejectExcluded},
	}
	return s
}

// Check evaluates relPath, a path relative to the repository root.
func (s *Selector) Check(relPath string) Decision {
	segments := splitSegments(relPath)
	for _, r := range s.rules {
		if r.reject(s, segments) {
			return Decision{Reason: r.reason}
		}
	}
	return Decision{Accept: true}
}

// PruneDir reports whether a directory (relative to the root) can be skipped
// entirely because every file below it would be rejected.
func (s *Selector) PruneDir(relDir string) bool {
	segments := splitSegments(relDir)
	return s.rejectHidden(segments) || s.rejectExcluded(segments)
}

func (s *Selector) rejectExtension(segments []string) bool {
	if len(segments) == 0 {
		return true
	}
	_, ok := s.extensions[strings.ToLower(suffix(segments[len(segments)-1]))]
	return !ok
}

func (s *Selector) rejectHidden(segments []string) bool {
	for _, seg := range segments {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func (s *Selector) rejectExcluded(segments []string) bool {
	for _, seg := range segments {
		if _, ok := s.excluded[seg]; ok {
			return true
		}
	}
	return false
}

func splitSegments(p string) []string {
	p = path.Clean(filepath.ToSlash(p))
	if p == "." || p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// suffix returns the final extension of name including the dot. Names that
// start with their only dot (".bashrc") or end in a dot have none.
func suffix(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return name[i:]
}

// language is the extension without its dot, as found in the path.
func language(relPath string) string {
	return strings.TrimPrefix(suffix(path.Base(filepath.ToSlash(relPath))), ".")
}
