// Package commitmsg builds the default commit message for a pull.
package commitmsg

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/schaermu/git-fetch-file/internal/revision"
	"github.com/schaermu/git-fetch-file/internal/sync"
)

// Fallback is used when nothing was fetched
const Fallback = "Update remote files"

var repoNamePattern = regexp.MustCompile(`([^/:]+)/([^/]+?)(?:\.git)?/?$`)

// Synthesize summarizes the successful results in one line
func Synthesize(results []sync.FetchResult) string {
	var ok []sync.FetchResult
	for _, r := range results {
		if r.Success() {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return Fallback
	}

	repos := distinctRepos(ok)
	from := ""
	if len(repos) == 1 {
		from = " from " + repos[0]
	}

	switch n := len(ok); {
	case n == 1:
		msg := "Update " + path.Base(ok[0].Path) + from
		if ok[0].RevisionChanged() {
			msg += "@" + revision.Short(ok[0].FetchedRevision)
		}
		return msg

	case n <= 3:
		names := make([]string, n)
		for i, r := range ok {
			names[i] = path.Base(r.Path)
		}
		return "Update " + joinList(names) + from

	default:
		if dir, same := commonDir(ok); same {
			return fmt.Sprintf("Update %d files in %s/%s", n, dir, from)
		}
		switch {
		case len(repos) == 1:
			return fmt.Sprintf("Update %d files%s", n, from)
		case len(repos) <= 3:
			return fmt.Sprintf("Update %d files from %s", n, joinList(repos))
		default:
			return fmt.Sprintf("Update %d files from %d repositories", n, len(repos))
		}
	}
}

// RepoName shortens a repository URL to "owner/name"
func RepoName(url string) string {
	if m := repoNamePattern.FindStringSubmatch(url); m != nil {
		return m[1] + "/" + m[2]
	}
	trimmed := strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func distinctRepos(results []sync.FetchResult) []string {
	seen := make(map[string]bool)
	var repos []string
	for _, r := range results {
		name := RepoName(r.Source)
		if !seen[name] {
			seen[name] = true
			repos = append(repos, name)
		}
	}
	return repos
}

// commonDir returns the parent directory shared by all results, if any
func commonDir(results []sync.FetchResult) (string, bool) {
	dir := path.Dir(results[0].Path)
	if dir == "." {
		return "", false
	}
	for _, r := range results[1:] {
		if path.Dir(r.Path) != dir {
			return "", false
		}
	}
	return dir, true
}

// joinList joins with "and", using an Oxford comma for three or more
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
