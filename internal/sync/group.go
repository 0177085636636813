package sync

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/schaermu/git-fetch-file/internal/manifest"
)

// Group is the set of entries fetched from one snapshot
type Group struct {
	Source   string
	Revision string
	Entries  []*manifest.Entry

	// indexes are the positions of Entries in the pass
	indexes []int
}

// ID is a short stable identifier for the (source, revision) pair
func (g *Group) ID() string {
	sum := sha256.Sum256([]byte(g.Source + "\x00" + g.Revision))
	return hex.EncodeToString(sum[:])[:12]
}

// HasGlob reports whether any entry needs the snapshot's file list
func (g *Group) HasGlob() bool {
	for _, e := range g.Entries {
		if e.IsGlob() {
			return true
		}
	}
	return false
}

type groupKey struct {
	source   string
	revision string
}

// Partition groups entries by (source, revisions[i]) in order of first
// appearance. Entries whose revision is empty are left out.
func Partition(entries []*manifest.Entry, revisions []string) []*Group {
	var groups []*Group
	byKey := make(map[groupKey]*Group)

	for i, e := range entries {
		if revisions[i] == "" {
			continue
		}
		key := groupKey{source: e.Source, revision: revisions[i]}
		g, ok := byKey[key]
		if !ok {
			g = &Group{Source: e.Source, Revision: revisions[i]}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.Entries = append(g.Entries, e)
		g.indexes = append(g.indexes, i)
	}

	return groups
}
