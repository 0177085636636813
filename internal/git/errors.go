package git

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by Client implementations.
//
// Callers check them with errors.Is:
//
//	if errors.Is(err, git.ErrSourceUnreachable) {
//	    // the whole repository group failed
//	}
var (
	// ErrSourceUnreachable is returned when a source repository cannot be
	// listed or cloned (network, auth, missing repository).
	ErrSourceUnreachable = errors.New("source repository unreachable")

	// ErrRevisionUnresolvable is returned when a reference does not name
	// anything in the source repository.
	ErrRevisionUnresolvable = errors.New("revision cannot be resolved")
)

func unreachable(url string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSourceUnreachable, url, err)
}

func unresolvable(url, ref string) error {
	return fmt.Errorf("%w: %q not found in %s", ErrRevisionUnresolvable, ref, url)
}

// checkRevision rejects revisions git would parse as an option
func checkRevision(url, revision string) error {
	if revision == "" || strings.HasPrefix(revision, "-") {
		return fmt.Errorf("%w: invalid revision %q for %s", ErrRevisionUnresolvable, revision, url)
	}
	return nil
}
