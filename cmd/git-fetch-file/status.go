package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schaermu/git-fetch-file/internal/sync"
)

var removeDryRun bool

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"list"},
	Short:   "List tracked files",
	Long: `Status prints one line per tracked entry: the path (with its target
directory and a glob marker), the repository, and the branch and commit it
is at. Legacy manifest entries are migrated on the way.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var removeCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Stop tracking a file or glob",
	Long: `Remove deletes the entry for path from the manifest. Files already fetched
stay in the work tree.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVar(&removeDryRun, "dry-run", false, "show what would be removed without changing the manifest")
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	if m.Len() == 0 {
		a.printf("No remote files tracked.")
		return nil
	}

	migrated, failed := a.migrate(ctx, m.Entries())

	for _, e := range m.Entries() {
		if err, ok := failed[e]; ok {
			a.warnf("%s: %v", e.Path, err)
		}
		line := fmt.Sprintf("%s\t%s (%s)", sync.DisplayPath(e), e.Source, sync.StatusLine(e))
		if e.Comment != "" {
			line += " # " + e.Comment
		}
		a.printf("%s", line)
	}

	if migrated {
		if err := a.store.Save(m); err != nil {
			return err
		}
		a.logger.Info("manifest migrated", "path", a.store.Path())
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
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

	entry, ok := m.Lookup(args[0])
	if !ok {
		return fmt.Errorf("file '%s' is not currently tracked", args[0])
	}

	targetInfo := ""
	if entry.TargetDir != "" {
		targetInfo = " -> " + entry.TargetDir
	}

	if removeDryRun {
		a.printf("Would remove tracking for '%s%s' from %s", entry.Path, targetInfo, entry.Source)
		return nil
	}

	m.Remove(entry.Path)
	if err := a.store.Save(m); err != nil {
		return err
	}
	a.logger.Info("removed manifest entry", "entry", entry.Path, "source", entry.Source)

	a.printf("Removed tracking for '%s%s' from %s", entry.Path, targetInfo, entry.Source)
	return nil
}
