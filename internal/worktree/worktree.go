// Package worktree operates on the local repository files are fetched into.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrNotRepository is returned when a directory is not inside a git work tree
var ErrNotRepository = errors.New("not a git repository")

// Repository provides the operations the auto-commit step needs
type Repository interface {
	// HasChanges reports staged, unstaged or untracked changes
	HasChanges(ctx context.Context) (bool, error)
	// StageAll stages every change in the work tree
	StageAll(ctx context.Context) error
	// Commit records the staged changes. With edit set the editor is opened,
	// pre-filled with message when it is not empty.
	Commit(ctx context.Context, message string, edit bool) error
}

// Client implements Repository by shelling out to the git command
type Client struct {
	dir    string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewClient creates a client for the work tree at dir. Interactive commands
// use the process's standard streams.
func NewClient(dir string) *Client {
	return &Client{
		dir:    dir,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// TopLevel returns the root of the work tree containing dir
func TopLevel(ctx context.Context, dir string) (string, error) {
	out, err := revParse(ctx, dir, "--show-toplevel")
	if err != nil {
		return "", err
	}
	return out, nil
}

// Prefix returns the path of dir relative to its work-tree root, with a
// trailing slash, or "" at the root
func Prefix(ctx context.Context, dir string) (string, error) {
	return revParse(ctx, dir, "--show-prefix")
}

func revParse(ctx context.Context, dir string, flag string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", flag)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasChanges checks the index, the work tree and untracked files
func (c *Client) HasChanges(ctx context.Context) (bool, error) {
	for _, args := range [][]string{
		{"diff", "--cached", "--quiet"},
		{"diff", "--quiet"},
	} {
		err := c.git(ctx, args...).Run()
		if err == nil {
			continue
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return true, nil
		}
		return false, fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}

	output, err := c.git(ctx, "ls-files", "--others", "--exclude-standard").Output()
	if err != nil {
		return false, fmt.Errorf("git ls-files failed: %w", err)
	}
	return strings.TrimSpace(string(output)) != "", nil
}

// StageAll stages all changes including new files
func (c *Client) StageAll(ctx context.Context) error {
	output, err := c.git(ctx, "add", "--all").CombinedOutput()
	if err != nil {
		return fmt.Errorf("git add failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Commit commits the index
func (c *Client) Commit(ctx context.Context, message string, edit bool) error {
	if !edit {
		output, err := c.git(ctx, "commit", "--quiet", "-m", message).CombinedOutput()
		if err != nil {
			return fmt.Errorf("git commit failed: %w: %s", err, strings.TrimSpace(string(output)))
		}
		return nil
	}

	args := []string{"commit"}
	if message != "" {
		tmpl, err := os.CreateTemp("", "git-fetch-file-msg-*.txt")
		if err != nil {
			return fmt.Errorf("failed to create message template: %w", err)
		}
		defer func() {
			_ = os.Remove(tmpl.Name())
		}()
		if _, err := tmpl.WriteString(message + "\n"); err != nil {
			_ = tmpl.Close()
			return fmt.Errorf("failed to write message template: %w", err)
		}
		if err := tmpl.Close(); err != nil {
			return fmt.Errorf("failed to write message template: %w", err)
		}
		args = append(args, "-t", tmpl.Name())
	}

	cmd := c.git(ctx, args...)
	cmd.Stdin = c.stdin
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	return nil
}

func (c *Client) git(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "git", append([]string{"-C", c.dir}, args...)...)
}
