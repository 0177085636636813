package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
)

// GoGitClient implements Client in-process with go-git
type GoGitClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewGoGitClient creates a client that does not need a git binary
func NewGoGitClient(sshKeyFile, httpsTokenFile string) *GoGitClient {
	return &GoGitClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// ResolveRef lists the remote references and picks the one ref names
func (c *GoGitClient) ResolveRef(ctx context.Context, url, ref string) (string, error) {
	refs, err := c.list(ctx, url)
	if err != nil {
		return "", err
	}

	byName := make(map[string]string, len(refs))
	for _, r := range refs {
		if r.Type() == plumbing.HashReference {
			byName[r.Name().String()] = r.Hash().String()
		}
	}
	// HEAD is usually advertised as a symbolic reference
	for _, r := range refs {
		if r.Type() == plumbing.SymbolicReference && r.Name() == plumbing.HEAD {
			if hash, ok := byName[r.Target().String()]; ok {
				byName["HEAD"] = hash
			}
		}
	}

	hash, ok := pickRef(byName, ref)
	if !ok {
		return "", unresolvable(url, ref)
	}
	return hash, nil
}

// DefaultBranch returns the branch the advertised HEAD points at
func (c *GoGitClient) DefaultBranch(ctx context.Context, url string) (string, error) {
	refs, err := c.list(ctx, url)
	if err != nil {
		return "", err
	}

	var head *plumbing.Reference
	for _, r := range refs {
		if r.Name() == plumbing.HEAD {
			head = r
			break
		}
	}
	if head == nil {
		return "", unresolvable(url, "HEAD")
	}
	if head.Type() == plumbing.SymbolicReference {
		return head.Target().Short(), nil
	}

	// Without symref support fall back to the first branch at HEAD's hash
	for _, r := range refs {
		if r.Name().IsBranch() && r.Hash() == head.Hash() {
			return r.Name().Short(), nil
		}
	}
	return "", unresolvable(url, "HEAD")
}

// Materialize clones url into destDir and force-checks out revision
func (c *GoGitClient) Materialize(ctx context.Context, url, revision, destDir string) (string, error) {
	if err := checkRevision(url, revision); err != nil {
		return "", err
	}

	auth, err := c.auth(url)
	if err != nil {
		return "", err
	}

	repo, err := gogit.PlainCloneContext(ctx, destDir, false, &gogit.CloneOptions{
		URL:        url,
		Auth:       auth,
		NoCheckout: true,
		Tags:       gogit.AllTags,
	})
	if err != nil {
		return "", unreachable(url, fmt.Errorf("clone failed: %w", err))
	}

	hash, err := resolveLocal(repo, revision)
	if err != nil {
		return "", fmt.Errorf("%w: %q in %s: %v", ErrRevisionUnresolvable, revision, url, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return "", fmt.Errorf("checkout of %s failed: %w", hash, err)
	}

	return hash.String(), nil
}

// ListFiles walks the tree of the HEAD commit
func (c *GoGitClient) ListFiles(_ context.Context, dir string) ([]string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to read HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}

	var files []string
	err = tree.Files().ForEach(func(f *object.File) error {
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree: %w", err)
	}
	return files, nil
}

func (c *GoGitClient) list(ctx context.Context, url string) ([]*plumbing.Reference, error) {
	auth, err := c.auth(url)
	if err != nil {
		return nil, err
	}

	remote := gogit.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	refs, err := remote.ListContext(ctx, &gogit.ListOptions{
		Auth:          auth,
		PeelingOption: gogit.AppendPeeled,
	})
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, nil
		}
		return nil, unreachable(url, err)
	}
	return refs, nil
}

// auth mirrors the shell client: SSH keys for SSH URLs, a token for HTTPS
//
//nolint:ireturn // go-git takes the transport.AuthMethod interface
func (c *GoGitClient) auth(url string) (transport.AuthMethod, error) {
	if c.sshKeyFile != "" && isSSHURL(url) {
		keys, err := gitssh.NewPublicKeysFromFile("git", c.sshKeyFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key: %w", err)
		}
		return keys, nil
	}

	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := readToken(c.httpsTokenFile)
		if err != nil {
			return nil, err
		}
		return &githttp.BasicAuth{Username: "x-access-token", Password: token}, nil
	}

	return nil, nil
}

// resolveLocal resolves revision inside a fresh clone, where branches other
// than the default only exist as remote-tracking refs
func resolveLocal(repo *gogit.Repository, revision string) (plumbing.Hash, error) {
	if plumbing.IsHash(revision) {
		hash := plumbing.NewHash(revision)
		if _, err := repo.CommitObject(hash); err != nil {
			return plumbing.ZeroHash, err
		}
		return hash, nil
	}

	h, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err == nil {
		return *h, nil
	}
	if h, rerr := repo.ResolveRevision(plumbing.Revision("origin/" + revision)); rerr == nil {
		return *h, nil
	}
	return plumbing.ZeroHash, err
}
