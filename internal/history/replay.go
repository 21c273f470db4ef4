// Package history rebuilds path snapshots from per-revision deltas and
// resolves which branch physically holds a revision.
package history

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"

	sosErrors "sos/internal/errors"
	"sos/internal/meta"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ParentBranch returns the branch owning the data of revision as seen from
// branch. Fast branches defer to their parent for revisions up to their fork
// point.
func ParentBranch(branches map[int]*meta.BranchInfo, branch, revision int) int {
	for {
		b, ok := branches[branch]
		if !ok || !b.Fast() || revision > *b.Revision {
			return branch
		}
		branch = *b.Parent
	}
}

// Step is one revision of a replay. Paths accumulates all deltas so far and
// keeps tombstones so that deleted paths retain their identity; it is reused
// between steps and must be cloned to be kept.
type Step struct {
	Revision int
	Paths    map[string]meta.PathInfo
	Delta    map[string]meta.PathInfo
}

type deltaKey struct {
	branch   int
	revision int
}

// Replayer reads deltas through the branch resolver.
type Replayer struct {
	store  meta.Store
	cache  *lru.Cache[deltaKey, map[string]meta.PathInfo]
	logger *zap.Logger
}

func NewReplayer(store meta.Store, cacheSize int, logger *zap.Logger) (*Replayer, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[deltaKey, map[string]meta.PathInfo](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating delta cache: %w", err)
	}
	return &Replayer{store: store, cache: cache, logger: logger}, nil
}

// Delta returns the stored delta of revision on branch, read from the owning
// branch. The map is shared with the cache and must not be modified.
func (r *Replayer) Delta(branches map[int]*meta.BranchInfo, branch, revision int) (map[string]meta.PathInfo, error) {
	key := deltaKey{ParentBranch(branches, branch, revision), revision}
	if delta, ok := r.cache.Get(key); ok {
		return delta, nil
	}

	delta, err := r.store.LoadDelta(key.branch, key.revision)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, delta)
	return delta, nil
}

// Sequence replays revisions 0 through revision of branch, yielding once per
// revision. A failed read is yielded as an error and ends the sequence.
func (r *Replayer) Sequence(branches map[int]*meta.BranchInfo, branch, revision int) iter.Seq2[Step, error] {
	return func(yield func(Step, error) bool) {
		paths := map[string]meta.PathInfo{}
		for rev := 0; rev <= revision; rev++ {
			delta, err := r.Delta(branches, branch, rev)
			if err != nil {
				yield(Step{Revision: rev}, err)
				return
			}
			maps.Copy(paths, delta)
			if !yield(Step{Revision: rev, Paths: paths, Delta: delta}, nil) {
				return
			}
		}
	}
}

// Snapshot returns the full path state of branch at revision, tombstones
// included.
func (r *Replayer) Snapshot(branches map[int]*meta.BranchInfo, branch, revision int) (map[string]meta.PathInfo, error) {
	paths := map[string]meta.PathInfo{}
	for step, err := range r.Sequence(branches, branch, revision) {
		if err != nil {
			return nil, err
		}
		paths = step.Paths
	}
	return maps.Clone(paths), nil
}

// FindRevision locates the blob holding the content of nameHash as of
// revision, walking back to the revision where it was last written.
func (r *Replayer) FindRevision(branches map[int]*meta.BranchInfo, branch, revision int, nameHash string) (int, string, error) {
	layout := r.store.Layout()
	for rev := revision; rev >= 0; rev-- {
		blob := layout.Blob(ParentBranch(branches, branch, rev), rev, nameHash)
		_, err := os.Stat(blob)
		if err == nil {
			return rev, blob, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return 0, "", sosErrors.Corrupt(fmt.Sprintf("checking blob %s", blob), err)
		}
	}
	return 0, "", sosErrors.Corrupt(fmt.Sprintf("no blob for %s up to revision %d/%d", nameHash, branch, revision), nil)
}

// Purge forgets cached deltas. Call after branches are retired or
// materialized.
func (r *Replayer) Purge() {
	r.cache.Purge()
	r.logger.Debug("Purged delta cache")
}

// Live drops tombstones from a snapshot.
func Live(paths map[string]meta.PathInfo) map[string]meta.PathInfo {
	live := make(map[string]meta.PathInfo, len(paths))
	for p, info := range paths {
		if !info.Deleted() {
			live[p] = info
		}
	}
	return live
}
