package sync

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrEntriesFailed is returned when at least one entry could not be fetched
var ErrEntriesFailed = errors.New("one or more entries failed")

// FetchResult is the outcome of fetching one entry
type FetchResult struct {
	Path       string
	Source     string
	TargetDir  string
	TrackedRef string

	// StoredRevision is the revision recorded in the manifest before the pass
	StoredRevision string
	// FetchedRevision is the commit the snapshot was materialized at
	FetchedRevision string

	FilesProcessed int
	FilesUpdated   int
	FilesUpToDate  int
	FilesSkipped   int

	Err error
}

// Success reports whether the entry was fetched
func (r FetchResult) Success() bool {
	return r.Err == nil
}

// RevisionChanged reports whether the entry moved to another commit
func (r FetchResult) RevisionChanged() bool {
	return r.FetchedRevision != "" && r.FetchedRevision != r.StoredRevision
}

// Report is the outcome of a pull
type Report struct {
	// Results holds one result per entry, in the order the entries were given
	Results []FetchResult
	// ManifestChanged is set when tracked entries moved to a new revision
	ManifestChanged bool
}

// Totals sums the per-file counters over successful entries
func (r *Report) Totals() (updated, upToDate, skipped int) {
	for _, res := range r.Results {
		if !res.Success() {
			continue
		}
		updated += res.FilesUpdated
		upToDate += res.FilesUpToDate
		skipped += res.FilesSkipped
	}
	return updated, upToDate, skipped
}

// Failed returns the results of entries that failed outright
func (r *Report) Failed() []FetchResult {
	var failed []FetchResult
	for _, res := range r.Results {
		if !res.Success() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Err combines the causes of all failed entries under ErrEntriesFailed, or
// returns nil when every entry succeeded
func (r *Report) Err() error {
	var errs error
	for _, res := range r.Failed() {
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.Path, res.Err))
	}
	if errs == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrEntriesFailed, errs)
}

// UpToDate reports whether the pass changed nothing and nothing failed
func (r *Report) UpToDate() bool {
	updated, upToDate, skipped := r.Totals()
	return updated == 0 && len(r.Failed()) == 0 && !r.ManifestChanged && (upToDate > 0 || skipped == 0)
}
