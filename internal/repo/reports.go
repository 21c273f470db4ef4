package repo

import (
	"fmt"

	"sos/internal/change"
	sosErrors "sos/internal/errors"
	"sos/internal/history"
	"sos/internal/meta"
)

// Changes compares the working tree with target, the current branch's last
// revision by default.
func (r *Repository) Changes(target string) (change.ChangeSet, error) {
	id, revision, err := r.resolve(target)
	if err != nil {
		return change.ChangeSet{}, err
	}
	if err := r.loadCommit(id, revision); err != nil {
		return change.ChangeSet{}, err
	}
	changes, _, err := r.detector.FindChanges(r.paths, r.scope(id, change.Options{}))
	return changes, err
}

// Diff returns line differences between target and the working tree for
// every changed path, in path order.
func (r *Repository) Diff(target string) ([]FileDiff, error) {
	id, revision, err := r.resolve(target)
	if err != nil {
		return nil, err
	}
	if err := r.loadCommit(id, revision); err != nil {
		return nil, err
	}
	changes, _, err := r.detector.FindChanges(r.paths, r.scope(id, change.Options{}))
	if err != nil {
		return nil, err
	}

	var diffs []FileDiff
	for _, p := range changes.Paths() {
		var (
			old, current []byte
			kind         string
		)
		switch {
		case inMap(changes.Additions, p):
			kind = "added"
			current, err = r.workspace.Read(p)
		case inMap(changes.Deletions, p):
			kind = "deleted"
			old, err = r.blob(id, revision, r.paths[p])
		default:
			kind = "modified"
			if old, err = r.blob(id, revision, r.paths[p]); err == nil {
				current, err = r.workspace.Read(p)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}

		d := FileDiff{Path: p, Kind: kind}
		if r.workspace.IsBinary(p, old) || r.workspace.IsBinary(p, current) {
			d.Binary = true
		} else {
			d.Result = r.diffs.Diff(old, current)
		}
		diffs = append(diffs, d)
	}
	return diffs, nil
}

func inMap(m map[string]meta.PathInfo, p string) bool {
	_, ok := m[p]
	return ok
}

// Status describes all branches and the working tree changes against the
// current branch.
func (r *Repository) Status() (*Status, error) {
	status := &Status{Branch: r.desc.Branch, Modes: r.desc.Modes}
	for _, id := range r.desc.BranchIDs() {
		commits, err := r.store.LoadCommits(id)
		if err != nil {
			return nil, err
		}
		status.Branches = append(status.Branches, BranchStatus{
			Info:      r.desc.Branches[id].Clone(),
			Revisions: len(commits),
			Current:   id == r.desc.Branch,
		})
	}

	changes, err := r.localChanges()
	if err != nil {
		return nil, err
	}
	status.Changes = changes
	return status, nil
}

// Log summarizes every revision of target's branch up to target's revision.
func (r *Repository) Log(target string) ([]LogEntry, error) {
	id, revision, err := r.resolve(target)
	if err != nil {
		return nil, err
	}

	var entries []LogEntry
	previous := map[string]meta.PathInfo{}
	for step, err := range r.replayer.Sequence(r.desc.Branches, id, revision) {
		if err != nil {
			return nil, err
		}
		commit := r.commits[step.Revision]
		entry := LogEntry{
			Commit: commit,
			Tagged: commit.Message != "" && r.desc.HasTag(commit.Message),
		}
		for p, info := range step.Delta {
			old, known := previous[p]
			switch {
			case info.Deleted():
				entry.Deleted++
			case !known || old.Deleted():
				entry.Added++
			default:
				entry.Modified++
			}
			previous[p] = info
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Files lists the paths present at target.
func (r *Repository) Files(target string) (map[string]meta.PathInfo, error) {
	id, revision, err := r.resolve(target)
	if err != nil {
		return nil, err
	}
	if err := r.loadCommit(id, revision); err != nil {
		return nil, err
	}
	return history.Live(r.paths), nil
}

// Cat returns the content path had at target.
func (r *Repository) Cat(target, path string) ([]byte, error) {
	id, revision, err := r.resolve(target)
	if err != nil {
		return nil, err
	}
	if err := r.loadCommit(id, revision); err != nil {
		return nil, err
	}
	info, ok := r.paths[path]
	if !ok || info.Deleted() {
		return nil, sosErrors.NotFound(fmt.Sprintf("%s does not exist at %d/%d", path, id, revision))
	}
	return r.blob(id, revision, info)
}
