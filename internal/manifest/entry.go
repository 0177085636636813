// Package manifest reads and writes the list of tracked remote files.
package manifest

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schaermu/git-fetch-file/internal/pathmatch"
)

// ErrMalformedEntry is returned for entries that miss a required field
var ErrMalformedEntry = errors.New("malformed manifest entry")

// Manifest keys
const (
	keyRepository = "repository"
	keyRepo       = "repo"
	keyCommit     = "commit"
	keyBranch     = "branch"
	keyTarget     = "target"
	keyGlob       = "glob"
	keyComment    = "comment"
)

// Field is a key the manifest does not interpret, kept for round-tripping
type Field struct {
	Key   string
	Value string
}

// Entry is one tracked path
type Entry struct {
	// Path is the file path or glob inside the source repository
	Path string
	// Source is the URL of the source repository
	Source string
	// Revision is the commit hash the entry was last fetched at
	Revision string
	// TrackedRef is the branch or tag followed on update; empty when pinned
	TrackedRef string
	// TargetDir is the destination directory relative to the work-tree root
	TargetDir string
	// Glob overrides pattern detection when set
	Glob *bool
	// Comment is a free-form note
	Comment string
	// Extra holds unknown keys in file order
	Extra []Field

	// section is the header the entry was read from
	section string
	// sourceKey is the key that carried Source, empty when only the header did
	sourceKey string
}

// NewEntry creates an entry for path tracked from source
func NewEntry(path, source string) *Entry {
	return &Entry{
		Path:      NormalizePath(path),
		Source:    source,
		sourceKey: keyRepository,
	}
}

// NormalizePath strips the leading slash from a source path
func NormalizePath(p string) string {
	return strings.TrimLeft(strings.TrimSpace(p), "/")
}

// IsGlob reports whether Path selects multiple files
func (e *Entry) IsGlob() bool {
	if e.Glob != nil {
		return *e.Glob
	}
	return pathmatch.IsPattern(e.Path)
}

// IsTracking reports whether the entry follows a branch or tag
func (e *Entry) IsTracking() bool {
	return e.TrackedRef != ""
}

// Validate reports a missing path or source, or a path or target that
// leaves its root, as ErrMalformedEntry
func (e *Entry) Validate() error {
	if e.Path == "" {
		return fmt.Errorf("%w: empty path in section [%s]", ErrMalformedEntry, e.Section())
	}
	if e.Source == "" {
		return fmt.Errorf("%w: %s has no repository", ErrMalformedEntry, e.Path)
	}
	if escapes(e.Path) {
		return fmt.Errorf("%w: path %s is outside the repository", ErrMalformedEntry, e.Path)
	}
	if e.TargetDir != "" && escapes(e.TargetDir) {
		return fmt.Errorf("%w: target %s of %s is outside the work tree", ErrMalformedEntry, e.TargetDir, e.Path)
	}
	return nil
}

// escapes reports whether p leaves the directory it is relative to
func escapes(p string) bool {
	if filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return true
	}
	clean := path.Clean(filepath.ToSlash(p))
	return path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../")
}

// Section returns the section header the entry is written under
func (e *Entry) Section() string {
	if e.section != "" {
		return e.section
	}
	return sectionName(e.Path)
}

// Clone returns a deep copy of e
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Glob != nil {
		g := *e.Glob
		cp.Glob = &g
	}
	cp.Extra = append([]Field(nil), e.Extra...)
	return &cp
}

// fields returns the keys to write for e, in order
func (e *Entry) fields() []Field {
	var out []Field

	_, headerSource := parseSection(e.Section())
	switch {
	case e.sourceKey != "":
		out = append(out, Field{e.sourceKey, e.Source})
	case headerSource != e.Source:
		out = append(out, Field{keyRepository, e.Source})
	}

	out = append(out, Field{keyCommit, e.Revision})
	if e.TrackedRef != "" {
		out = append(out, Field{keyBranch, e.TrackedRef})
	}
	if e.TargetDir != "" {
		out = append(out, Field{keyTarget, e.TargetDir})
	}
	if e.Glob != nil {
		out = append(out, Field{keyGlob, strconv.FormatBool(*e.Glob)})
	}
	if e.Comment != "" {
		out = append(out, Field{keyComment, e.Comment})
	}

	return append(out, e.Extra...)
}

// setField applies one key read from the manifest
func (e *Entry) setField(key, value string) {
	switch key {
	case keyRepository:
		if e.sourceKey == keyRepo {
			e.Extra = append(e.Extra, Field{keyRepo, e.Source})
		}
		e.Source = value
		e.sourceKey = keyRepository
		return
	case keyRepo:
		if e.sourceKey != keyRepository {
			e.Source = value
			e.sourceKey = keyRepo
			return
		}
	case keyCommit:
		e.Revision = value
		return
	case keyBranch:
		e.TrackedRef = value
		return
	case keyTarget:
		e.TargetDir = value
		return
	case keyComment:
		e.Comment = value
		return
	case keyGlob:
		if b, err := strconv.ParseBool(value); err == nil {
			e.Glob = &b
			return
		}
	}
	e.Extra = append(e.Extra, Field{key, value})
}

func sectionName(path string) string {
	return `file "` + path + `"`
}

// parseSection extracts the path and, for the legacy
// `file "<path>" from "<url>"` form, the source URL from a header
func parseSection(name string) (path, source string) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(name), "file ")
	if !ok {
		return "", ""
	}
	rest = strings.TrimSpace(rest)

	if p, s, found := strings.Cut(rest, `" from "`); found {
		return strings.TrimPrefix(p, `"`), strings.TrimSuffix(s, `"`)
	}
	return strings.Trim(rest, `"`), ""
}
