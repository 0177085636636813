package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schaermu/git-fetch-file/internal/manifest"
	"github.com/schaermu/git-fetch-file/internal/sync"
)

var (
	addBranch  string
	addDetach  string
	addGlob    bool
	addNoGlob  bool
	addComment string
	addForce   bool
	addDryRun  bool
)

var addCmd = &cobra.Command{
	Use:   "add <repository> <path> [target_dir]",
	Short: "Start tracking a file or glob from a remote repository",
	Long: `Add records a file path or glob pattern from a remote repository in the
manifest. The reference is resolved to a commit hash right away.

Without --branch or --detach the repository's default branch is tracked, so
that "pull --update" follows it. With --detach the entry stays pinned to the
given commit or tag.

The target directory is taken relative to the current directory.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addBranch, "branch", "b", "", "track a branch or tag")
	addCmd.Flags().StringVar(&addDetach, "detach", "", "pin to a commit or tag without tracking")
	addCmd.Flags().StringVar(&addDetach, "commit", "", "alias for --detach")
	addCmd.Flags().BoolVar(&addGlob, "glob", false, "treat path as a glob pattern")
	addCmd.Flags().BoolVar(&addNoGlob, "no-glob", false, "treat path as a literal file")
	addCmd.Flags().StringVar(&addComment, "comment", "", "descriptive comment stored with the entry")
	addCmd.Flags().BoolVar(&addForce, "force", false, "replace an existing entry for the same path")
	addCmd.Flags().BoolVar(&addDryRun, "dry-run", false, "show what would be done without changing the manifest")

	addCmd.MarkFlagsMutuallyExclusive("branch", "detach", "commit")
	addCmd.MarkFlagsMutuallyExclusive("glob", "no-glob")
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}

	repository := args[0]
	entry := manifest.NewEntry(args[1], repository)
	if entry.Path == "" {
		return fmt.Errorf("%w: empty path", manifest.ErrMalformedEntry)
	}

	var target string
	if len(args) > 2 {
		target = args[2]
	}
	entry.TargetDir, err = a.manifestTarget(target)
	if err != nil {
		return err
	}

	m, err := a.store.Load()
	if err != nil {
		return err
	}
	existing, exists := m.Lookup(entry.Path)
	if exists && !addForce {
		return fmt.Errorf("'%s' already tracked from %s (use --force to replace it)", entry.Path, existing.Source)
	}

	ref := addDetach
	if ref == "" {
		ref = addBranch
		if ref == "" {
			ref, err = a.resolver.DefaultBranch(ctx, repository)
			if err != nil {
				return fmt.Errorf("repository '%s' not found or inaccessible: %w", repository, err)
			}
		}
		entry.TrackedRef = ref
	}

	if addDryRun {
		a.printf("Would validate repository access: %s", repository)
	}

	id, err := a.resolver.Resolve(ctx, repository, ref)
	if err != nil {
		return fmt.Errorf("failed to resolve commit reference '%s': %w", ref, err)
	}
	entry.Revision = id
	entry.Comment = addComment
	switch {
	case addGlob, addNoGlob:
		glob := addGlob
		entry.Glob = &glob
	}

	patternType := "file"
	if entry.IsGlob() {
		patternType = "glob pattern"
	}
	targetInfo := ""
	if entry.TargetDir != "" {
		targetInfo = " -> " + entry.TargetDir
	}

	if addDryRun {
		action := "add"
		if exists {
			action = "update"
		}
		a.printf("Would %s %s %s%s from %s (%s)", action, patternType, entry.Path, targetInfo, repository, sync.StatusLine(entry))
		if entry.Comment != "" {
			a.printf("With comment: %s", entry.Comment)
		}
		return nil
	}

	m.Upsert(entry)
	if err := a.store.Save(m); err != nil {
		return err
	}
	a.logger.Info("added manifest entry", "entry", entry.Path, "source", repository, "revision", id, "ref", entry.TrackedRef)

	a.printf("Added %s %s%s from %s (%s)", patternType, entry.Path, targetInfo, repository, sync.StatusLine(entry))
	return nil
}
