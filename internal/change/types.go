// internal/change/types.go
package change

import (
	"sos/internal/meta"
	"sos/internal/pattern"
	"sos/shared/utils"
)

// Move pairs an addition with the deletion it most likely came from.
type Move struct {
	From string        `json:"from"`
	Info meta.PathInfo `json:"info"`
}

// ChangeSet is the difference between a path snapshot and the working tree.
// Moves are derived from Additions and Deletions, which keep their entries.
type ChangeSet struct {
	Additions     map[string]meta.PathInfo `json:"additions"`
	Deletions     map[string]meta.PathInfo `json:"deletions"`
	Modifications map[string]meta.PathInfo `json:"modifications"`
	Moves         map[string]Move          `json:"moves"`
}

func NewChangeSet() ChangeSet {
	return ChangeSet{
		Additions:     map[string]meta.PathInfo{},
		Deletions:     map[string]meta.PathInfo{},
		Modifications: map[string]meta.PathInfo{},
		Moves:         map[string]Move{},
	}
}

// Empty reports whether nothing was added, deleted or modified.
func (c ChangeSet) Empty() bool {
	return len(c.Additions) == 0 && len(c.Deletions) == 0 && len(c.Modifications) == 0
}

func (c ChangeSet) Count() int {
	return len(c.Additions) + len(c.Deletions) + len(c.Modifications)
}

// Paths lists every changed path in sorted order.
func (c ChangeSet) Paths() []string {
	all := make(map[string]struct{}, c.Count())
	for _, m := range []map[string]meta.PathInfo{c.Additions, c.Deletions, c.Modifications} {
		for p := range m {
			all[p] = struct{}{}
		}
	}
	return utils.SortedKeys(all)
}

// Options controls a FindChanges run.
type Options struct {
	// Strict compares content hashes instead of modification times.
	Strict bool
	// Inverse records the snapshot's state for modifications instead of the
	// working tree's, which is what a restore needs.
	Inverse bool
	// Considered restricts the walk to matching files. Nil considers all.
	Considered *pattern.Set
	// Excluded removes matching files from consideration.
	Excluded *pattern.Set
	// Target is a revision folder that receives blobs of added and modified
	// files. Empty means nothing is written.
	Target string
	// Progress, if set, is called with the running count of scanned files.
	Progress func(scanned int)
}

func (o Options) considers(path string) bool {
	if o.Considered != nil && !o.Considered.MatchFile(path) {
		return false
	}
	return !o.Excluded.MatchFile(path)
}
