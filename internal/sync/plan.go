package sync

import (
	"fmt"
	"io"
	"path"
	"path/filepath"

	"github.com/schaermu/git-fetch-file/internal/cache"
	"github.com/schaermu/git-fetch-file/internal/manifest"
	"github.com/schaermu/git-fetch-file/internal/pathmatch"
	"github.com/schaermu/git-fetch-file/internal/revision"
)

// Action is the dry-run classification of an entry
type Action int

const (
	ActionFetch Action = iota
	ActionSkip
	ActionUpToDate
	ActionError
)

// PlanItem is the dry-run verdict for one entry
type PlanItem struct {
	Entry  *manifest.Entry
	Action Action
	Err    error
}

// DryRunReport groups entries by what a pull would do with them
type DryRunReport struct {
	Items []PlanItem
}

// Plan classifies entries from local state only: no source is contacted and
// no snapshot is materialized. Glob entries are judged by the files already
// present below their destination that match the pattern.
func (e *Engine) Plan(entries []*manifest.Entry, opts Options) *DryRunReport {
	report := &DryRunReport{}
	for _, entry := range entries {
		action, err := e.classify(entry, opts)
		if err != nil {
			action = ActionError
		}
		report.Items = append(report.Items, PlanItem{Entry: entry, Action: action, Err: err})
	}
	return report
}

func (e *Engine) classify(entry *manifest.Entry, opts Options) (Action, error) {
	if err := entry.Validate(); err != nil {
		return ActionError, err
	}

	dests, err := e.localDestinations(entry)
	if err != nil {
		return ActionError, err
	}
	if len(dests) == 0 {
		return ActionFetch, nil
	}

	allCurrent := true
	for _, dest := range dests {
		state, err := e.cache.Check(cache.Key(dest), filepath.Join(e.root, filepath.FromSlash(dest)))
		if err != nil {
			return ActionError, err
		}
		if state.Modified() && !opts.Force {
			return ActionSkip, nil
		}
		if !state.Exists || state.Modified() {
			allCurrent = false
		}
	}

	if allCurrent && !(opts.UpdateTracked && entry.IsTracking()) {
		return ActionUpToDate, nil
	}
	return ActionFetch, nil
}

// localDestinations lists the destination paths of entry. For a glob these
// are the existing local files below the destination matching the pattern.
func (e *Engine) localDestinations(entry *manifest.Entry) ([]string, error) {
	if !entry.IsGlob() {
		return []string{Destination(entry, entry.Path)}, nil
	}

	base := filepath.FromSlash(entry.TargetDir)
	local, err := pathmatch.Discover(filepath.Join(e.root, base))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", entry.TargetDir, err)
	}
	matches, err := pathmatch.Filter(entry.Path, local)
	if err != nil {
		return nil, err
	}

	dests := make([]string, 0, len(matches))
	for _, rel := range matches {
		dests = append(dests, Destination(entry, rel))
	}
	return dests, nil
}

// Fail marks entry as an error regardless of how it was classified
func (r *DryRunReport) Fail(entry *manifest.Entry, err error) {
	for i := range r.Items {
		if r.Items[i].Entry == entry {
			r.Items[i].Action = ActionError
			r.Items[i].Err = err
		}
	}
}

// Empty reports whether there is nothing to report
func (r *DryRunReport) Empty() bool {
	return len(r.Items) == 0
}

// HasErrors reports whether any entry could not be classified
func (r *DryRunReport) HasErrors() bool {
	for _, item := range r.Items {
		if item.Action == ActionError {
			return true
		}
	}
	return false
}

// Print writes the report in sections
func (r *DryRunReport) Print(w io.Writer, opts Options) {
	p := newPrinter(w)

	sections := []struct {
		action Action
		title  string
		line   func(PlanItem) string
	}{
		{ActionFetch, "Would fetch:", func(it PlanItem) string {
			return fmt.Sprintf("  %s from %s (%s)", it.Entry.Path, it.Entry.Source, fetchStatus(it.Entry, opts))
		}},
		{ActionSkip, "Would skip (local changes):", func(it PlanItem) string {
			return fmt.Sprintf("  %s from %s (use --force to overwrite)", it.Entry.Path, it.Entry.Source)
		}},
		{ActionUpToDate, "Up to date:", func(it PlanItem) string {
			return fmt.Sprintf("  %s from %s (%s)", it.Entry.Path, it.Entry.Source, StatusLine(it.Entry))
		}},
		{ActionError, "Errors:", func(it PlanItem) string {
			return fmt.Sprintf("  %s from %s: %v", it.Entry.Path, it.Entry.Source, it.Err)
		}},
	}

	printed := false
	for _, s := range sections {
		var lines []string
		for _, item := range r.Items {
			if item.Action == s.action {
				lines = append(lines, s.line(item))
			}
		}
		if len(lines) == 0 {
			continue
		}

		p.Printf("%s", s.title)
		for _, l := range lines {
			if s.action == ActionError {
				p.Warnf("%s", l)
			} else {
				p.Printf("%s", l)
			}
		}
		p.Printf("")
		printed = true
	}

	if !printed {
		p.Printf("Already up to date.")
	}
}

// StatusLine describes where an entry points, in the style of git status
func StatusLine(entry *manifest.Entry) string {
	if entry.IsTracking() {
		return fmt.Sprintf("On branch %s at %s", entry.TrackedRef, revision.Short(entry.Revision))
	}
	return fmt.Sprintf("HEAD detached at %s", revision.Short(entry.Revision))
}

func fetchStatus(entry *manifest.Entry, opts Options) string {
	if !entry.IsTracking() {
		return StatusLine(entry)
	}
	status := "On branch " + entry.TrackedRef
	if opts.UpdateTracked {
		status += " -> [update to latest]"
	}
	return status
}

// DisplayPath renders an entry as "path[ -> target][ (glob)]"
func DisplayPath(entry *manifest.Entry) string {
	s := entry.Path
	if entry.TargetDir != "" {
		s += " -> " + path.Clean(filepath.ToSlash(entry.TargetDir))
	}
	if entry.IsGlob() {
		s += " (glob)"
	}
	return s
}
