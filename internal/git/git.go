package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Client provides the repository capabilities the fetch engine depends on
type Client interface {
	// ResolveRef resolves a branch, tag or HEAD in the remote repository to a
	// full commit hash
	ResolveRef(ctx context.Context, url, ref string) (string, error)

	// DefaultBranch returns the branch the remote HEAD points at
	DefaultBranch(ctx context.Context, url string) (string, error)

	// Materialize clones url into destDir and checks out revision. It returns
	// the commit hash that was checked out.
	Materialize(ctx context.Context, url, revision, destDir string) (string, error)

	// ListFiles returns every file path tracked at HEAD of a materialized
	// snapshot, slash separated and relative to its root
	ListFiles(ctx context.Context, dir string) ([]string, error)
}

// tokenEnv carries the HTTPS token to the credential helper
const tokenEnv = "GIT_FETCH_FILE_TOKEN"

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// ResolveRef queries the remote with ls-remote. Branches win over tags, and
// annotated tags resolve to the commit they point at.
func (c *ShellClient) ResolveRef(ctx context.Context, url, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", "--", url, ref, ref+"^{}")
	if err := c.configureAuth(cmd, url); err != nil {
		return "", err
	}

	output, err := c.output(cmd)
	if err != nil {
		return "", unreachable(url, err)
	}

	refs := parseLsRemote(output)
	hash, ok := pickRef(refs, ref)
	if !ok {
		return "", unresolvable(url, ref)
	}
	return hash, nil
}

// DefaultBranch asks the remote which branch HEAD points at
func (c *ShellClient) DefaultBranch(ctx context.Context, url string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", "--symref", "--", url, "HEAD")
	if err := c.configureAuth(cmd, url); err != nil {
		return "", err
	}

	output, err := c.output(cmd)
	if err != nil {
		return "", unreachable(url, err)
	}

	// ref: refs/heads/main	HEAD
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		target, ok := strings.CutPrefix(line, "ref: ")
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(target, "\t")
		return strings.TrimPrefix(name, "refs/heads/"), nil
	}
	return "", unresolvable(url, "HEAD")
}

// Materialize clones the repository without checking out, then checks out
// the requested revision
func (c *ShellClient) Materialize(ctx context.Context, url, revision, destDir string) (string, error) {
	if err := checkRevision(url, revision); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--quiet", "--no-checkout", "--", url, destDir)
	if err := c.configureAuth(cmd, url); err != nil {
		return "", err
	}
	if err := c.runCommand(cmd); err != nil {
		return "", unreachable(url, fmt.Errorf("git clone failed: %w", err))
	}

	// Strategy:
	// 1. Try direct checkout (commit hashes, tags, the cloned default branch)
	// 2. If that fails, try as a remote branch (origin/ref)
	cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "--quiet", "-f", revision, "--")
	if err := c.runCommand(cmd); err != nil {
		cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "--quiet", "-f", "origin/"+revision, "--")
		if err := c.runCommand(cmd); err != nil {
			return "", fmt.Errorf("%w: git checkout failed for %q in %s: %v", ErrRevisionUnresolvable, revision, url, err)
		}
	}

	cmd = exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD")
	output, err := c.output(cmd)
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// ListFiles lists the files tracked at HEAD of a materialized snapshot
func (c *ShellClient) ListFiles(ctx context.Context, dir string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "ls-tree", "-r", "-z", "--name-only", "HEAD")
	output, err := c.output(cmd)
	if err != nil {
		return nil, fmt.Errorf("git ls-tree failed: %w", err)
	}

	var files []string
	for _, name := range strings.Split(string(output), "\x00") {
		if name != "" {
			files = append(files, name)
		}
	}
	return files, nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && isSSHURL(url) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := readToken(c.httpsTokenFile)
		if err != nil {
			return err
		}

		// The token travels in the environment and is read by a credential
		// helper, never embedded in a shell expression.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, tokenEnv+"="+token)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$`+tokenEnv+`"; }; f`,
		)
	}

	return nil
}

func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")
}

func readToken(path string) (string, error) {
	token, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read HTTPS token file: %w", err)
	}
	return strings.TrimSpace(string(token)), nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "ls-remote").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with stderr on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// output executes a command and returns stdout, folding stderr into the error
func (c *ShellClient) output(cmd *exec.Cmd) ([]byte, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// parseLsRemote turns "<hash>\t<refname>" lines into a map
func parseLsRemote(output []byte) map[string]string {
	refs := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		hash, name, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			continue
		}
		refs[name] = strings.TrimSpace(hash)
	}
	return refs
}

// pickRef selects the hash ref names in a remote listing. Branches take
// precedence over tags; peeled tags over the tag object itself.
func pickRef(refs map[string]string, ref string) (string, bool) {
	candidates := []string{
		"refs/heads/" + ref,
		"refs/tags/" + ref + "^{}",
		"refs/tags/" + ref,
		ref + "^{}",
		ref,
	}
	if ref == "HEAD" {
		candidates = []string{"HEAD"}
	}

	for _, name := range candidates {
		if hash, ok := refs[name]; ok && hash != "" {
			return strings.ToLower(hash), true
		}
	}
	return "", false
}
