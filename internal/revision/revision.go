// Package revision turns symbolic references into immutable commit hashes.
package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/schaermu/git-fetch-file/internal/git"
)

// idLength is the length of a full SHA-1 commit hash in hex
const idLength = 40

// Resolver resolves references against source repositories
type Resolver struct {
	client git.Client
	logger *slog.Logger
}

// NewResolver creates a resolver backed by client
func NewResolver(client git.Client, logger *slog.Logger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// Resolve returns the commit hash ref names in source. Values that already
// look like a commit hash are returned lower-cased without contacting the
// source. An empty ref, "HEAD" and "latest" name the default branch. A ref
// that does not exist falls back to the default branch; when that does not
// resolve either, git.ErrRevisionUnresolvable is returned.
func (r *Resolver) Resolve(ctx context.Context, source, ref string) (string, error) {
	if LooksLikeImmutableID(strings.ToLower(ref)) {
		return strings.ToLower(ref), nil
	}
	if isDefaultRef(ref) {
		return r.client.ResolveRef(ctx, source, "HEAD")
	}

	hash, err := r.client.ResolveRef(ctx, source, ref)
	if err == nil {
		return hash, nil
	}
	if !errors.Is(err, git.ErrRevisionUnresolvable) {
		return "", err
	}

	r.logger.Warn("reference not found, falling back to default branch", "source", source, "ref", ref)
	hash, ferr := r.client.ResolveRef(ctx, source, "HEAD")
	if ferr != nil {
		return "", fmt.Errorf("%w (default branch fallback: %v)", err, ferr)
	}
	return hash, nil
}

// DefaultBranch returns the name of the branch the source's HEAD points at
func (r *Resolver) DefaultBranch(ctx context.Context, source string) (string, error) {
	return r.client.DefaultBranch(ctx, source)
}

// LooksLikeImmutableID reports whether v is a full lower-case hex commit
// hash. A branch named with 40 hex characters is misclassified.
func LooksLikeImmutableID(v string) bool {
	if len(v) != idLength {
		return false
	}
	for _, c := range v {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Short abbreviates a commit hash for display
func Short(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func isDefaultRef(ref string) bool {
	switch strings.TrimSpace(ref) {
	case "", "HEAD", "latest":
		return true
	}
	return false
}
