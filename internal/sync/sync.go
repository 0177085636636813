package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/git-fetch-file/internal/cache"
	"github.com/schaermu/git-fetch-file/internal/config"
	"github.com/schaermu/git-fetch-file/internal/git"
	"github.com/schaermu/git-fetch-file/internal/manifest"
	"github.com/schaermu/git-fetch-file/internal/pathmatch"
	"github.com/schaermu/git-fetch-file/internal/revision"
)

// Resolver resolves a reference in a source repository to a commit hash
type Resolver interface {
	Resolve(ctx context.Context, source, ref string) (string, error)
}

// Options controls a pull
type Options struct {
	// Force overwrites locally modified files
	Force bool
	// UpdateTracked moves tracked entries to the current commit of their ref
	UpdateTracked bool
	// DryRun only inspects local state
	DryRun bool
	// Jobs bounds the number of groups fetched in parallel; <= 0 means NumCPU
	Jobs int
}

// Engine fetches manifest entries into the work tree
type Engine struct {
	root     string
	tempDir  string
	git      git.Client
	resolver Resolver
	cache    *cache.Cache
	logger   *slog.Logger
	out      *printer
}

// NewEngine creates a new fetch engine. Progress lines are written to out.
func NewEngine(cfg *config.Config, gitClient git.Client, resolver Resolver, logger *slog.Logger, out io.Writer) *Engine {
	return &Engine{
		root:     cfg.Root(),
		tempDir:  cfg.TempDir(),
		git:      gitClient,
		resolver: resolver,
		cache:    cache.New(cfg.CacheDir()),
		logger:   logger,
		out:      newPrinter(out),
	}
}

// fileOutcome is what happened to one destination file
type fileOutcome int

const (
	fileUpdated fileOutcome = iota
	fileUpToDate
	fileSkipped
)

// groupDone carries the results of one group to the collector
type groupDone struct {
	group   *Group
	results []FetchResult
}

// Pull fetches entries. Entries are grouped by (source, revision) and every
// group is materialized exactly once; groups run in parallel and a failing
// group never aborts its siblings. Tracked entries whose commit moved are
// updated in place when opts.UpdateTracked is set. The returned error is only
// non-nil for failures that affect the whole invocation, such as an
// unwritable cache; per-entry failures are reported in the Report.
func (e *Engine) Pull(ctx context.Context, entries []*manifest.Entry, opts Options) (*Report, error) {
	report := &Report{Results: make([]FetchResult, len(entries))}
	revisions := make([]string, len(entries))

	for i, entry := range entries {
		report.Results[i] = FetchResult{
			Path:           entry.Path,
			Source:         entry.Source,
			TargetDir:      entry.TargetDir,
			TrackedRef:     entry.TrackedRef,
			StoredRevision: entry.Revision,
		}
		if err := entry.Validate(); err != nil {
			report.Results[i].Err = err
			continue
		}
		revisions[i] = entry.Revision
		if revisions[i] == "" {
			revisions[i] = "HEAD"
		}
	}

	if opts.UpdateTracked {
		e.resolveTracked(ctx, entries, revisions, report)
	}

	groups := Partition(entries, revisions)
	e.logger.Info("starting pull",
		"entries", len(entries),
		"groups", len(groups),
		"force", opts.Force,
		"update", opts.UpdateTracked)

	if len(groups) > 0 {
		if err := os.MkdirAll(e.tempDir, 0755); err != nil {
			return report, fmt.Errorf("failed to create temp directory: %w", err)
		}
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	if jobs > len(groups) {
		jobs = len(groups)
	}

	var g errgroup.Group
	g.SetLimit(max(jobs, 1))
	done := make(chan groupDone, len(groups))

	for _, group := range groups {
		g.Go(func() error {
			results, err := e.fetchGroup(ctx, group, opts)
			done <- groupDone{group: group, results: results}
			return err
		})
	}

	fatal := g.Wait()
	close(done)

	// Collect in completion order
	for d := range done {
		e.logger.Debug("group finished", "source", d.group.Source, "revision", d.group.Revision)
		for j, idx := range d.group.indexes {
			report.Results[idx] = d.results[j]
		}
	}

	if opts.UpdateTracked {
		for i, entry := range entries {
			res := report.Results[i]
			if !entry.IsTracking() || !res.Success() || !res.RevisionChanged() {
				continue
			}
			e.logger.Info("tracked entry moved",
				"entry", entry.Path,
				"ref", entry.TrackedRef,
				"from", entry.Revision,
				"to", res.FetchedRevision)
			entry.Revision = res.FetchedRevision
			report.ManifestChanged = true
		}
	}

	return report, fatal
}

// resolveTracked replaces the revision of every tracked entry with the
// current commit of its ref, resolving each (source, ref) once
func (e *Engine) resolveTracked(ctx context.Context, entries []*manifest.Entry, revisions []string, report *Report) {
	type resolved struct {
		id  string
		err error
	}
	memo := make(map[groupKey]resolved)

	for i, entry := range entries {
		if report.Results[i].Err != nil || !entry.IsTracking() {
			continue
		}

		key := groupKey{source: entry.Source, revision: entry.TrackedRef}
		r, ok := memo[key]
		if !ok {
			id, err := e.resolver.Resolve(ctx, entry.Source, entry.TrackedRef)
			r = resolved{id: id, err: err}
			memo[key] = r
		}

		if r.err != nil {
			e.logger.Warn("failed to resolve tracked ref", "entry", entry.Path, "ref", entry.TrackedRef, "error", r.err)
			report.Results[i].Err = fmt.Errorf("failed to resolve %s: %w", entry.TrackedRef, r.err)
			revisions[i] = ""
			continue
		}
		revisions[i] = r.id
	}
}

// fetchGroup materializes one snapshot in a private scratch directory and
// copies every entry of the group out of it
func (e *Engine) fetchGroup(ctx context.Context, group *Group, opts Options) ([]FetchResult, error) {
	results := make([]FetchResult, len(group.Entries))
	for i, entry := range group.Entries {
		results[i] = FetchResult{
			Path:           entry.Path,
			Source:         entry.Source,
			TargetDir:      entry.TargetDir,
			TrackedRef:     entry.TrackedRef,
			StoredRevision: entry.Revision,
		}
	}
	failAll := func(err error) []FetchResult {
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	if err := ctx.Err(); err != nil {
		return failAll(err), nil
	}

	scratch, err := os.MkdirTemp(e.tempDir, "clone-"+group.ID()+"-*")
	if err != nil {
		return failAll(fmt.Errorf("failed to create scratch directory: %w", err)), nil
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			e.logger.Warn("failed to remove scratch directory", "dir", scratch, "error", err)
		}
	}()

	e.logger.Info("materializing snapshot", "source", group.Source, "revision", group.Revision, "dest", scratch)
	fetched, err := e.git.Materialize(ctx, group.Source, group.Revision, scratch)
	if err != nil {
		if !errors.Is(err, git.ErrSourceUnreachable) {
			err = fmt.Errorf("%w: %w", git.ErrSourceUnreachable, err)
		}
		e.logger.Error("failed to materialize snapshot", "source", group.Source, "revision", group.Revision, "error", err)
		return failAll(err), nil
	}

	var files []string
	if group.HasGlob() {
		files, err = e.git.ListFiles(ctx, scratch)
		if err != nil {
			return failAll(fmt.Errorf("failed to list snapshot files: %w", err)), nil
		}
	}

	var fatal error
	for i, entry := range group.Entries {
		results[i].FetchedRevision = fetched
		if err := e.fetchEntry(entry, scratch, files, fetched, opts, &results[i]); err != nil {
			results[i].Err = err
			if errors.Is(err, errStore) && fatal == nil {
				fatal = err
			}
		}
	}

	return results, fatal
}

// fetchEntry copies the files of one entry out of a snapshot
func (e *Engine) fetchEntry(entry *manifest.Entry, snapshot string, files []string, fetched string, opts Options, res *FetchResult) error {
	var matches []string
	if entry.IsGlob() {
		var err error
		matches, err = pathmatch.Filter(entry.Path, files)
		if err != nil {
			return err
		}
		e.logger.Info("expanded pattern", "entry", entry.Path, "source", entry.Source, "matches", len(matches))
		if len(matches) == 0 {
			e.out.Warnf("warning: no files matching '%s' found in %s", entry.Path, entry.Source)
		}
	} else {
		matches = []string{entry.Path}
	}

	for _, rel := range matches {
		dest := Destination(entry, rel)
		outcome, err := e.copyThroughCache(snapshot, rel, dest, fetched, opts)
		if err != nil {
			return err
		}

		res.FilesProcessed++
		switch outcome {
		case fileUpdated:
			res.FilesUpdated++
		case fileUpToDate:
			res.FilesUpToDate++
		case fileSkipped:
			res.FilesSkipped++
		}
	}
	return nil
}

// errStore marks failures to write the cache
var errStore = errors.New("cache store failure")

// errOutsideRoot marks a source or destination that leaves its root
var errOutsideRoot = errors.New("path escapes its root")

// copyThroughCache copies file rel of snapshot to dest unless dest was
// edited locally
func (e *Engine) copyThroughCache(snapshot, rel, dest, fetched string, opts Options) (fileOutcome, error) {
	src, err := within(snapshot, rel)
	if err != nil {
		return fileSkipped, fmt.Errorf("%w: %w", manifest.ErrMalformedEntry, err)
	}
	destPath, err := within(e.root, dest)
	if err != nil {
		return fileSkipped, fmt.Errorf("%w: %w", manifest.ErrMalformedEntry, err)
	}

	key := cache.Key(dest)
	unlock := e.cache.Lock(key)
	defer unlock()

	srcHash, err := cache.HashFile(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.out.Warnf("warning: file %s not found in repository", rel)
			return fileSkipped, nil
		}
		return fileSkipped, fmt.Errorf("failed to read %s from snapshot: %w", rel, err)
	}

	state, err := e.cache.Check(key, destPath)
	if err != nil {
		return fileSkipped, fmt.Errorf("failed to inspect %s: %w", dest, err)
	}

	if state.Exists && state.LocalHash == srcHash {
		if err := e.cache.Record(key, srcHash); err != nil {
			return fileSkipped, fmt.Errorf("%w: %w", errStore, err)
		}
		e.logger.Debug("file up to date", "dest", dest)
		return fileUpToDate, nil
	}

	if state.Modified() && !opts.Force {
		e.out.Warnf("Skipping %s: local changes detected. Use --force to overwrite.", rel)
		return fileSkipped, nil
	}

	if err := copyFile(src, destPath); err != nil {
		return fileSkipped, fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := e.cache.Record(key, srcHash); err != nil {
		return fileSkipped, fmt.Errorf("%w: %w", errStore, err)
	}

	e.logger.Info("fetched file", "entry", rel, "dest", dest, "revision", fetched)
	e.out.Printf("Fetched %s -> %s at %s", rel, dest, revision.Short(fetched))
	return fileUpdated, nil
}

// within joins the slash-separated rel onto root and fails when the result
// is not below root
func within(root, rel string) (string, error) {
	joined := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, joined)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, rel)
	}
	return joined, nil
}

// Destination returns the slash-separated path, relative to the work-tree
// root, that file rel of entry is written to. A glob keeps the matched path
// below the target directory; a single file lands directly in it.
func Destination(entry *manifest.Entry, rel string) string {
	switch {
	case entry.TargetDir == "":
		return rel
	case entry.IsGlob():
		return path.Join(filepath.ToSlash(entry.TargetDir), rel)
	default:
		return path.Join(filepath.ToSlash(entry.TargetDir), path.Base(rel))
	}
}

// copyFile copies a file from src to dst with atomic write
func copyFile(src, dst string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".git-fetch-file-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
