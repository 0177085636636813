package sync

import (
	"bytes"
	"context"
	"testing"

	"github.com/schaermu/git-fetch-file/internal/config"
	"github.com/schaermu/git-fetch-file/internal/git"
	"github.com/schaermu/git-fetch-file/internal/manifest"
	"github.com/schaermu/git-fetch-file/internal/revision"
	"github.com/schaermu/git-fetch-file/internal/testutil"
)

// TestPull_RealRepository fetches from a local repository with the git binary
func TestPull_RealRepository(t *testing.T) {
	src := testutil.InitRepo(t, "main")
	first := testutil.CommitFiles(t, src, "Initial commit", map[string]string{
		"README.md":   "# Project\n",
		"docs/a.md":   "a\n",
		"docs/b.md":   "b\n",
		"src/main.go": "package main\n",
	})

	root := t.TempDir()
	cfg := config.Default(root)
	client := git.NewShellClient("", "")
	resolver := revision.NewResolver(client, testLogger())
	engine := NewEngine(cfg, client, resolver, testLogger(), &bytes.Buffer{})
	ctx := context.Background()

	readme := manifest.NewEntry("README.md", src)
	readme.TrackedRef = "main"
	readme.Revision = first
	docs := manifest.NewEntry("docs/*.md", src)
	docs.Revision = first
	docs.TargetDir = "vendor"
	entries := []*manifest.Entry{readme, docs}

	report, err := engine.Pull(ctx, entries, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}
	env := &testEnv{root: root}
	if got := env.read(t, "README.md"); got != "# Project\n" {
		t.Errorf("README.md = %q", got)
	}
	if got := env.read(t, "vendor/docs/b.md"); got != "b\n" {
		t.Errorf("vendor/docs/b.md = %q", got)
	}

	second := testutil.CommitFile(t, src, "README.md", "# Project v2\n", "Update readme")

	report, err = engine.Pull(ctx, entries, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.UpToDate() {
		t.Error("pull without update should leave pinned revisions alone")
	}

	report, err = engine.Pull(ctx, entries, Options{UpdateTracked: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}
	if !report.ManifestChanged || readme.Revision != second {
		t.Errorf("expected tracked entry at %s, got %s (changed=%v)", second, readme.Revision, report.ManifestChanged)
	}
	if docs.Revision != first {
		t.Errorf("pinned glob entry moved to %s", docs.Revision)
	}
	if got := env.read(t, "README.md"); got != "# Project v2\n" {
		t.Errorf("README.md = %q", got)
	}
}
