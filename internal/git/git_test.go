package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/schaermu/git-fetch-file/internal/testutil"
)

type sourceRepo struct {
	dir      string
	first    string
	tagged   string
	head     string
	feature  string
	annotate string
}

// newSourceRepo builds a repository with a branch, a lightweight tag and an
// annotated tag on main, and a second branch
func newSourceRepo(t *testing.T) sourceRepo {
	t.Helper()
	dir := testutil.InitRepo(t, "main")

	r := sourceRepo{dir: dir}
	r.first = testutil.CommitFile(t, dir, "hello.txt", "version1\n", "Initial commit")
	r.tagged = testutil.CommitFiles(t, dir, "Tagged commit", map[string]string{
		"hello.txt":       "tagged\n",
		"docs/guide.md":   "# Guide\n",
		"docs/api/ref.md": "# Ref\n",
	})
	testutil.Git(t, dir, "tag", "v1.0")
	testutil.Git(t, dir, "tag", "-a", "v1.1", "-m", "annotated")
	r.annotate = r.tagged
	r.head = testutil.CommitFile(t, dir, "hello.txt", "after-tag\n", "Post-tag commit")

	testutil.Git(t, dir, "checkout", "--quiet", "-b", "feature", r.first)
	r.feature = testutil.CommitFile(t, dir, "feature.txt", "feature\n", "Feature commit")
	testutil.Git(t, dir, "checkout", "--quiet", "main")

	return r
}

func clients() map[string]Client {
	return map[string]Client{
		"shell":  NewShellClient("", ""),
		"go-git": NewGoGitClient("", ""),
	}
}

func TestResolveRef(t *testing.T) {
	repo := newSourceRepo(t)
	ctx := context.Background()

	tests := []struct {
		ref  string
		want string
	}{
		{ref: "main", want: repo.head},
		{ref: "HEAD", want: repo.head},
		{ref: "feature", want: repo.feature},
		{ref: "v1.0", want: repo.tagged},
		{ref: "v1.1", want: repo.annotate},
		{ref: "refs/heads/feature", want: repo.feature},
	}

	for name, client := range clients() {
		for _, tt := range tests {
			t.Run(name+"/"+tt.ref, func(t *testing.T) {
				got, err := client.ResolveRef(ctx, repo.dir, tt.ref)
				if err != nil {
					t.Fatalf("ResolveRef(%q): %v", tt.ref, err)
				}
				if got != tt.want {
					t.Errorf("ResolveRef(%q) = %s, want %s", tt.ref, got, tt.want)
				}
			})
		}
	}
}

func TestResolveRef_Errors(t *testing.T) {
	repo := newSourceRepo(t)
	ctx := context.Background()

	for name, client := range clients() {
		t.Run(name, func(t *testing.T) {
			_, err := client.ResolveRef(ctx, repo.dir, "does-not-exist")
			if !errors.Is(err, ErrRevisionUnresolvable) {
				t.Errorf("expected ErrRevisionUnresolvable, got %v", err)
			}

			missing := filepath.Join(t.TempDir(), "missing")
			_, err = client.ResolveRef(ctx, missing, "main")
			if !errors.Is(err, ErrSourceUnreachable) {
				t.Errorf("expected ErrSourceUnreachable, got %v", err)
			}
		})
	}
}

func TestDefaultBranch(t *testing.T) {
	testutil.RequireGit(t)
	dir := testutil.InitRepo(t, "trunk")
	testutil.CommitFile(t, dir, "a.txt", "a\n", "init")

	for name, client := range clients() {
		t.Run(name, func(t *testing.T) {
			got, err := client.DefaultBranch(context.Background(), dir)
			if err != nil {
				t.Fatalf("DefaultBranch: %v", err)
			}
			if got != "trunk" {
				t.Errorf("DefaultBranch() = %s, want trunk", got)
			}
		})
	}
}

func TestMaterialize(t *testing.T) {
	repo := newSourceRepo(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		revision string
		want     string
		content  string
	}{
		{name: "full hash", revision: repo.first, want: repo.first, content: "version1\n"},
		{name: "default branch", revision: "main", want: repo.head, content: "after-tag\n"},
		{name: "tag", revision: "v1.0", want: repo.tagged, content: "tagged\n"},
	}

	for name, client := range clients() {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				dest := filepath.Join(t.TempDir(), "snapshot")
				got, err := client.Materialize(ctx, repo.dir, tt.revision, dest)
				if err != nil {
					t.Fatalf("Materialize: %v", err)
				}
				if got != tt.want {
					t.Errorf("Materialize() = %s, want %s", got, tt.want)
				}

				data, err := os.ReadFile(filepath.Join(dest, "hello.txt"))
				if err != nil {
					t.Fatal(err)
				}
				if string(data) != tt.content {
					t.Errorf("expected %q, got %q", tt.content, string(data))
				}
			})
		}
	}
}

func TestMaterialize_RemoteBranch(t *testing.T) {
	repo := newSourceRepo(t)

	for name, client := range clients() {
		t.Run(name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "snapshot")
			got, err := client.Materialize(context.Background(), repo.dir, "feature", dest)
			if err != nil {
				t.Fatalf("Materialize: %v", err)
			}
			if got != repo.feature {
				t.Errorf("Materialize() = %s, want %s", got, repo.feature)
			}
			if _, err := os.Stat(filepath.Join(dest, "feature.txt")); err != nil {
				t.Errorf("expected feature.txt in snapshot: %v", err)
			}
		})
	}
}

func TestMaterialize_Unreachable(t *testing.T) {
	testutil.RequireGit(t)
	missing := filepath.Join(t.TempDir(), "missing")

	for name, client := range clients() {
		t.Run(name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "snapshot")
			_, err := client.Materialize(context.Background(), missing, "main", dest)
			if !errors.Is(err, ErrSourceUnreachable) {
				t.Errorf("expected ErrSourceUnreachable, got %v", err)
			}
		})
	}
}

func TestMaterialize_OptionLikeArguments(t *testing.T) {
	testutil.RequireGit(t)
	repo := newSourceRepo(t)
	ctx := context.Background()

	for name, client := range clients() {
		t.Run(name, func(t *testing.T) {
			marker := filepath.Join(t.TempDir(), "marker")
			url := "--upload-pack=touch " + marker

			if _, err := client.ResolveRef(ctx, url, "main"); err == nil {
				t.Error("expected ResolveRef to fail for option-like URL")
			}
			if _, err := client.DefaultBranch(ctx, url); err == nil {
				t.Error("expected DefaultBranch to fail for option-like URL")
			}
			if _, err := client.Materialize(ctx, url, "main", filepath.Join(t.TempDir(), "snapshot")); err == nil {
				t.Error("expected Materialize to fail for option-like URL")
			}
			if _, err := os.Stat(marker); !os.IsNotExist(err) {
				t.Errorf("URL was interpreted as a git option: %v", err)
			}

			dest := filepath.Join(t.TempDir(), "snapshot")
			_, err := client.Materialize(ctx, repo.dir, "--orphan=x", dest)
			if !errors.Is(err, ErrRevisionUnresolvable) {
				t.Errorf("expected ErrRevisionUnresolvable for option-like revision, got %v", err)
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Errorf("expected no clone for a rejected revision, stat: %v", err)
			}
		})
	}
}

func TestListFiles(t *testing.T) {
	repo := newSourceRepo(t)
	ctx := context.Background()
	want := []string{"docs/api/ref.md", "docs/guide.md", "hello.txt"}

	for name, client := range clients() {
		t.Run(name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "snapshot")
			if _, err := client.Materialize(ctx, repo.dir, repo.tagged, dest); err != nil {
				t.Fatalf("Materialize: %v", err)
			}

			got, err := client.ListFiles(ctx, dest)
			if err != nil {
				t.Fatalf("ListFiles: %v", err)
			}
			sort.Strings(got)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("ListFiles() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPickRef(t *testing.T) {
	refs := map[string]string{
		"HEAD":             "aaaa",
		"refs/heads/main":  "aaaa",
		"refs/heads/v2":    "bbbb",
		"refs/tags/v2":     "cccc",
		"refs/tags/v1":     "dddd",
		"refs/tags/v1^{}":  "EEEE",
		"refs/pull/1/head": "ffff",
	}

	tests := []struct {
		ref    string
		want   string
		wantOK bool
	}{
		{ref: "HEAD", want: "aaaa", wantOK: true},
		{ref: "main", want: "aaaa", wantOK: true},
		{ref: "v2", want: "bbbb", wantOK: true},
		{ref: "v1", want: "eeee", wantOK: true},
		{ref: "refs/pull/1/head", want: "ffff", wantOK: true},
		{ref: "nope", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := pickRef(refs, tt.ref)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("pickRef(%q) = %q, %v; want %q, %v", tt.ref, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseLsRemote(t *testing.T) {
	out := []byte("abc123\tHEAD\nabc123\trefs/heads/main\n\ndef456\trefs/tags/v1^{}\n")
	want := map[string]string{
		"HEAD":            "abc123",
		"refs/heads/main": "abc123",
		"refs/tags/v1^{}": "def456",
	}
	if diff := cmp.Diff(want, parseLsRemote(out)); diff != "" {
		t.Errorf("parseLsRemote() mismatch (-want +got):\n%s", diff)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple path", input: "/home/user/.ssh/key", want: "'/home/user/.ssh/key'"},
		{name: "path with spaces", input: "/home/my user/key", want: "'/home/my user/key'"},
		{name: "path with single quote", input: "/home/user's/key", want: "'/home/user'\\''s/key'"},
		{name: "empty string", input: "", want: "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shellQuote(tt.input)
			if got != tt.want {
				t.Errorf("shellQuote(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestInsertGitFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		flags []string
		want  []string
	}{
		{
			name:  "insert before subcommand",
			args:  []string{"git", "clone", "--no-checkout", "url", "dest"},
			flags: []string{"-c", "key=value"},
			want:  []string{"git", "-c", "key=value", "clone", "--no-checkout", "url", "dest"},
		},
		{
			name:  "insert before ls-remote",
			args:  []string{"git", "ls-remote", "url", "main"},
			flags: []string{"-c", "cred=helper"},
			want:  []string{"git", "-c", "cred=helper", "ls-remote", "url", "main"},
		},
		{
			name:  "empty args",
			args:  []string{},
			flags: []string{"-c", "key=value"},
			want:  []string{"-c", "key=value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := insertGitFlags(tt.args, tt.flags...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("insertGitFlags() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigureAuth_Token(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenFile, []byte("secret\n"), 0600); err != nil {
		t.Fatal(err)
	}

	client := NewShellClient("", tokenFile)
	auth, err := NewGoGitClient("", tokenFile).auth("https://example.com/o/r.git")
	if err != nil {
		t.Fatal(err)
	}
	if auth == nil || auth.Name() != "http-basic-auth" {
		t.Errorf("expected basic auth, got %v", auth)
	}

	cmd := execGit("ls-remote", "https://example.com/o/r.git")
	if err := client.configureAuth(cmd, "https://example.com/o/r.git"); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, env := range cmd.Env {
		if env == tokenEnv+"=secret" {
			found = true
		}
	}
	if !found {
		t.Error("expected token in command environment")
	}
	if cmd.Args[1] != "-c" {
		t.Errorf("expected credential helper flag, got %v", cmd.Args)
	}

	// SSH URLs do not receive the token
	sshCmd := execGit("ls-remote", "git@example.com:o/r.git")
	if err := client.configureAuth(sshCmd, "git@example.com:o/r.git"); err != nil {
		t.Fatal(err)
	}
	if len(sshCmd.Args) != 3 {
		t.Errorf("expected args unchanged, got %v", sshCmd.Args)
	}
}

func execGit(args ...string) *exec.Cmd {
	return exec.Command("git", args...)
}
