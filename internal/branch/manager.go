// Package branch creates, duplicates and removes branches.
package branch

import (
	"fmt"
	"time"

	"sos/internal/change"
	sosErrors "sos/internal/errors"
	"sos/internal/history"
	"sos/internal/meta"
	"sos/internal/safe"

	"go.uber.org/zap"
)

// Manager changes the branch table of a descriptor and writes the matching
// commit logs and revisions. Saving the descriptor is left to the caller.
type Manager struct {
	store    meta.Store
	replayer *history.Replayer
	safe     *safe.Safe
	detector *change.Detector
	logger   *zap.Logger
}

func NewManager(store meta.Store, replayer *history.Replayer, contentSafe *safe.Safe, detector *change.Detector, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		replayer: replayer,
		safe:     contentSafe,
		detector: detector,
		logger:   logger,
	}
}

// Latest returns the last revision of branch.
func (m *Manager) Latest(branch int) (int, error) {
	commits, err := m.store.LoadCommits(branch)
	if err != nil {
		return 0, err
	}
	return meta.Latest(commits), nil
}

// Create adds branch id with a single revision 0. In simple mode, or when
// there is no branch yet, revision 0 is the working tree; in tracking modes
// it is a copy of the current branch's last revision. The returned message
// reports compression when blobs were written.
func (m *Manager) Create(desc *meta.Descriptor, id int, name, message string) (string, error) {
	if _, exists := desc.Branches[id]; exists {
		return "", sosErrors.Precondition(fmt.Sprintf("branch %d already exists", id), false)
	}

	now := time.Now().UnixMilli()
	info := &meta.BranchInfo{
		Number:    id,
		CTime:     now,
		Name:      name,
		Tracked:   []string{},
		Untracked: []string{},
	}

	var (
		msg   string
		delta map[string]meta.PathInfo
	)
	current, hasCurrent := desc.Branches[desc.Branch]
	switch {
	case !desc.Tracking():
		changes, compressed, err := m.detector.FindChanges(map[string]meta.PathInfo{}, change.Options{
			Strict: desc.Strict,
			Target: m.store.Layout().Revision(id, 0),
		})
		if err != nil {
			return "", fmt.Errorf("scanning working tree: %w", err)
		}
		delta, msg = changes.Additions, compressed

	case hasCurrent:
		latest, err := m.Latest(desc.Branch)
		if err != nil {
			return "", err
		}
		if delta, err = m.copySnapshot(desc, desc.Branch, latest, id); err != nil {
			return "", err
		}
		info.Tracked = append(info.Tracked, current.Tracked...)
		info.Untracked = append(info.Untracked, current.Untracked...)

	default:
		delta = map[string]meta.PathInfo{}
	}

	if err := m.store.SaveDelta(id, 0, delta); err != nil {
		return "", err
	}
	if err := m.store.SaveCommits(id, map[int]meta.CommitInfo{0: {Number: 0, CTime: now, Message: message}}); err != nil {
		return "", err
	}

	desc.Branches[id] = info
	m.logger.Info("Created branch",
		zap.Int("branch", id),
		zap.String("name", name),
		zap.Int("files", len(delta)))
	return msg, nil
}

// Duplicate adds branch id as a copy of source's last revision. A full copy
// owns all blobs in its revision 0. A fast copy only records the fork point,
// inherits source's commit log and adds one empty revision on top.
func (m *Manager) Duplicate(desc *meta.Descriptor, source, id int, name, message string, full bool) error {
	src, ok := desc.Branches[source]
	if !ok {
		return sosErrors.NotFound(fmt.Sprintf("branch %d not found", source))
	}
	if _, exists := desc.Branches[id]; exists {
		return sosErrors.Precondition(fmt.Sprintf("branch %d already exists", id), false)
	}

	commits, err := m.store.LoadCommits(source)
	if err != nil {
		return err
	}
	latest := meta.Latest(commits)
	now := time.Now().UnixMilli()

	info := src.Clone()
	info.Number = id
	info.CTime = now
	info.Name = name
	info.Parent, info.Revision = nil, nil

	if full {
		delta, err := m.copySnapshot(desc, source, latest, id)
		if err != nil {
			return err
		}
		if err := m.store.SaveDelta(id, 0, delta); err != nil {
			return err
		}
		if err := m.store.SaveCommits(id, map[int]meta.CommitInfo{0: {Number: 0, CTime: now, Message: message}}); err != nil {
			return err
		}
	} else {
		info.Parent, info.Revision = meta.Intp(source), meta.Intp(latest)
		inherited := make(map[int]meta.CommitInfo, latest+2)
		for n := 0; n <= latest; n++ {
			inherited[n] = commits[n]
		}
		inherited[latest+1] = meta.CommitInfo{Number: latest + 1, CTime: now, Message: message}

		if err := m.store.SaveDelta(id, latest+1, map[string]meta.PathInfo{}); err != nil {
			return err
		}
		if err := m.store.SaveCommits(id, inherited); err != nil {
			return err
		}
	}

	desc.Branches[id] = info
	m.logger.Info("Duplicated branch",
		zap.Int("source", source),
		zap.Int("branch", id),
		zap.Bool("full", full))
	return nil
}

// copySnapshot writes the live paths of branch at revision into revision 0 of
// target, copying every referenced blob.
func (m *Manager) copySnapshot(desc *meta.Descriptor, branch, revision, target int) (map[string]meta.PathInfo, error) {
	paths, err := m.replayer.Snapshot(desc.Branches, branch, revision)
	if err != nil {
		return nil, err
	}

	live := history.Live(paths)
	layout := m.store.Layout()
	for p, info := range live {
		if *info.Size == 0 {
			continue
		}
		_, blob, err := m.replayer.FindRevision(desc.Branches, branch, revision, info.NameHash)
		if err != nil {
			return nil, fmt.Errorf("locating %s: %w", p, err)
		}
		if err := m.safe.CopyBlob(blob, layout.Blob(target, 0, info.NameHash)); err != nil {
			return nil, fmt.Errorf("copying %s: %w", p, err)
		}
	}
	return live, nil
}

// Remove deletes branch victim. Direct fast children whose fork point lies in
// data the victim owns are materialized first; the others are re-parented to
// the victim's own parent.
func (m *Manager) Remove(desc *meta.Descriptor, victim int) error {
	v, ok := desc.Branches[victim]
	if !ok {
		return sosErrors.NotFound(fmt.Sprintf("branch %d not found", victim))
	}
	if len(desc.Branches) <= 1 {
		return sosErrors.Precondition("cannot remove the only branch", false)
	}

	for _, id := range desc.BranchIDs() {
		b := desc.Branches[id]
		if id == victim || !b.Fast() || *b.Parent != victim {
			continue
		}

		fork := *b.Revision
		if history.ParentBranch(desc.Branches, id, fork) != victim {
			b.Parent = meta.Intp(*v.Parent)
			m.logger.Info("Re-parented branch", zap.Int("branch", id), zap.Int("parent", *b.Parent))
			continue
		}

		for rev := 0; rev <= fork; rev++ {
			owner := history.ParentBranch(desc.Branches, id, rev)
			if err := m.store.CopyRevision(owner, rev, id); err != nil {
				return fmt.Errorf("materializing branch %d: %w", id, err)
			}
		}
		b.Parent, b.Revision = nil, nil
		m.logger.Info("Materialized branch", zap.Int("branch", id), zap.Int("revisions", fork+1))
	}

	if err := m.store.RetireBranch(victim); err != nil {
		return err
	}
	delete(desc.Branches, victim)
	if desc.Branch == victim {
		ids := desc.BranchIDs()
		desc.Branch = ids[len(ids)-1]
	}

	m.replayer.Purge()
	m.safe.Purge()
	m.logger.Info("Removed branch", zap.Int("branch", victim))
	return nil
}
