package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schaermu/git-fetch-file/internal/commitmsg"
	"github.com/schaermu/git-fetch-file/internal/manifest"
	"github.com/schaermu/git-fetch-file/internal/sync"
	"github.com/schaermu/git-fetch-file/internal/worktree"
)

var (
	pullForce      bool
	pullUpdate     bool
	pullJobs       int
	pullDryRun     bool
	pullCommit     bool
	pullMessage    string
	pullEdit       bool
	pullNoCommit   bool
	pullRepository string
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch all tracked files",
	Long: `Pull fetches every tracked entry at the revision recorded in the manifest.
Entries from the same repository and revision share a single clone, and
distinct clones run in parallel.

With --update, entries that track a branch or tag move to its current commit
and the manifest is rewritten. Files edited locally since the last fetch are
skipped unless --force is given.

With --commit, -m or --edit (or commit.auto in the config file) the changes
are committed afterwards.`,
	Args: cobra.NoArgs,
	RunE: runPull,
}

func init() {
	pullCmd.Flags().BoolVar(&pullForce, "force", false, "overwrite files with local changes")
	pullCmd.Flags().BoolVar(&pullUpdate, "update", false, "move tracked entries to the latest commit of their branch or tag")
	pullCmd.Flags().BoolVar(&pullUpdate, "save", false, "alias for --update")
	pullCmd.Flags().IntVarP(&pullJobs, "jobs", "j", 0, "number of repositories fetched in parallel (default fetch.jobs, then number of CPUs)")
	pullCmd.Flags().BoolVar(&pullDryRun, "dry-run", false, "show what would be done without fetching anything")
	pullCmd.Flags().BoolVar(&pullCommit, "commit", false, "commit the changes with a generated message")
	pullCmd.Flags().StringVarP(&pullMessage, "message", "m", "", "commit the changes with this message")
	pullCmd.Flags().BoolVar(&pullEdit, "edit", false, "commit the changes, composing the message in an editor")
	pullCmd.Flags().BoolVar(&pullNoCommit, "no-commit", false, "do not commit, even when commit.auto is set")
	pullCmd.Flags().StringVarP(&pullRepository, "repository", "r", "", "only pull entries from this repository")
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	m, err := a.store.Load()
	if err != nil {
		return err
	}

	var entries []*manifest.Entry
	for _, e := range m.Entries() {
		if pullRepository == "" || e.Source == pullRepository {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		if pullRepository != "" {
			a.printf("No remote files tracked from %s.", pullRepository)
		} else {
			a.printf("No remote files tracked.")
		}
		return nil
	}

	migrated, migrationErrs := a.migrate(ctx, entries)

	jobs := a.cfg.Fetch.Jobs
	if cmd.Flags().Changed("jobs") {
		jobs = pullJobs
	}
	opts := sync.Options{
		Force:         pullForce,
		UpdateTracked: pullUpdate,
		DryRun:        pullDryRun,
		Jobs:          jobs,
	}

	engine := sync.NewEngine(a.cfg, a.git, a.resolver, a.logger, a.out)

	if opts.DryRun {
		plan := engine.Plan(entries, opts)
		for e, err := range migrationErrs {
			plan.Fail(e, err)
		}
		plan.Print(a.out, opts)
		if plan.HasErrors() {
			return fmt.Errorf("%w: see errors above", sync.ErrEntriesFailed)
		}
		return nil
	}

	// Entries that could not be migrated are reported as failed
	var runnable []*manifest.Entry
	var failed []sync.FetchResult
	for _, e := range entries {
		if err, ok := migrationErrs[e]; ok {
			failed = append(failed, sync.FetchResult{Path: e.Path, Source: e.Source, Err: err})
			continue
		}
		runnable = append(runnable, e)
	}

	report, err := engine.Pull(ctx, runnable, opts)
	if err != nil {
		return err
	}
	report.Results = append(report.Results, failed...)

	for _, res := range report.Failed() {
		a.errorf("fetching %s: %v", res.Path, res.Err)
	}

	if migrated || report.ManifestChanged {
		if err := a.store.Save(m); err != nil {
			return err
		}
		a.logger.Info("manifest updated", "path", a.store.Path())
	}

	if report.UpToDate() && !migrated {
		a.printf("Already up to date.")
	}

	if !pullNoCommit && (pullCommit || pullMessage != "" || pullEdit || a.cfg.Commit.Auto) {
		a.commitChanges(ctx, worktree.NewClient(a.root), report)
	}

	return report.Err()
}

// commitChanges stages and commits everything in repo. Failures only warn:
// the files were fetched either way.
func (a *app) commitChanges(ctx context.Context, repo worktree.Repository, report *sync.Report) {
	changed, err := repo.HasChanges(ctx)
	if err != nil {
		a.warnf("failed to inspect work tree, skipping commit: %v", err)
		return
	}
	if !changed {
		a.logger.Info("nothing to commit")
		return
	}

	message := pullMessage
	if message == "" {
		message = commitmsg.Synthesize(report.Results)
	}

	if err := repo.StageAll(ctx); err != nil {
		a.warnf("failed to stage changes: %v", err)
		return
	}
	if err := repo.Commit(ctx, message, pullEdit); err != nil {
		a.warnf("failed to commit changes: %v", err)
		return
	}

	if pullEdit {
		a.printf("Committed changes: [via editor]")
	} else {
		a.printf("Committed changes: %s", message)
	}
}
