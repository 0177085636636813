// Package testutil provides helpers for tests that need real git repositories.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when no git binary is available
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// Git runs git in dir with a fixed identity and returns trimmed stdout
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-C", dir, "-c", "commit.gpgsign=false", "-c", "tag.gpgsign=false"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
		"GIT_CONFIG_NOSYSTEM=1",
	)
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		t.Fatalf("git %v: %v: %s", args, err, stderr)
	}
	return strings.TrimSpace(string(out))
}

// InitRepo creates a repository in a new temporary directory with branch as
// its initial branch and returns the directory
func InitRepo(t *testing.T, branch string) string {
	t.Helper()
	RequireGit(t)
	dir := t.TempDir()
	Git(t, dir, "init", "--quiet", "-b", branch)
	return dir
}

// CommitFiles writes files (slash-separated path to content) into repoDir,
// commits them and returns the new commit hash
func CommitFiles(t *testing.T, repoDir, msg string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(repoDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	Git(t, repoDir, "add", "--all")
	Git(t, repoDir, "commit", "--quiet", "-m", msg)
	return Git(t, repoDir, "rev-parse", "HEAD")
}

// CommitFile is CommitFiles for a single file
func CommitFile(t *testing.T, repoDir, name, content, msg string) string {
	t.Helper()
	return CommitFiles(t, repoDir, msg, map[string]string{name: content})
}
