package manifest

import (
	"context"
	"fmt"
	"strings"

	"github.com/schaermu/git-fetch-file/internal/revision"
)

// Resolver resolves a reference in a source repository to a commit hash
type Resolver interface {
	Resolve(ctx context.Context, source, ref string) (string, error)
}

// Rule is one named, idempotent schema migration
type Rule struct {
	Name  string
	Apply func(ctx context.Context, e *Entry, r Resolver) (bool, error)
}

// Rules are applied in order by Migrate
var Rules = []Rule{
	{Name: "repository-key", Apply: renameRepoKey},
	{Name: "resolve-revision", Apply: resolveRevision},
}

// Migrate brings e up to the current schema and returns the names of the
// rules that changed it. A second run returns nothing.
func Migrate(ctx context.Context, e *Entry, r Resolver) ([]string, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	var applied []string
	for _, rule := range Rules {
		changed, err := rule.Apply(ctx, e, r)
		if err != nil {
			return applied, fmt.Errorf("migration %s of %s: %w", rule.Name, e.Path, err)
		}
		if changed {
			applied = append(applied, rule.Name)
		}
	}
	return applied, nil
}

// renameRepoKey rewrites the legacy "repo" key as "repository"
func renameRepoKey(_ context.Context, e *Entry, _ Resolver) (bool, error) {
	if e.sourceKey != keyRepo {
		return false, nil
	}
	e.sourceKey = keyRepository
	return true, nil
}

// resolveRevision turns a symbolic commit value of an untracked entry into
// branch tracking at the resolved hash
func resolveRevision(ctx context.Context, e *Entry, r Resolver) (bool, error) {
	if e.TrackedRef != "" {
		return false, nil
	}

	value := strings.TrimSpace(e.Revision)
	if revision.LooksLikeImmutableID(value) {
		return false, nil
	}
	if lower := strings.ToLower(value); revision.LooksLikeImmutableID(lower) {
		e.Revision = lower
		return true, nil
	}

	if value == "" {
		value = "HEAD"
	}
	id, err := r.Resolve(ctx, e.Source, value)
	if err != nil {
		return false, err
	}

	e.TrackedRef = value
	e.Revision = id
	return true, nil
}
