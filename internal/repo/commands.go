package repo

import (
	"bytes"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"time"

	"sos/internal/change"
	sosErrors "sos/internal/errors"
	"sos/internal/merge"
	"sos/internal/meta"
	"sos/internal/pattern"
	"sos/internal/validation"
	"sos/shared/utils"

	"go.uber.org/zap"
)

// Online ends version control of the working tree and removes all metadata.
// Every branch must be in sync and the working tree unchanged unless forced.
func (r *Repository) Online(force bool) error {
	if !force {
		for _, id := range r.desc.BranchIDs() {
			if info := r.desc.Branches[id]; !info.InSync {
				return sosErrors.Precondition(fmt.Sprintf("branch %s has changes that were not integrated back", info.Label()), true)
			}
		}
		changes, err := r.localChanges()
		if err != nil {
			return err
		}
		if !changes.Empty() {
			return sosErrors.Precondition(fmt.Sprintf("working tree has %d uncommitted change(s)", changes.Count()), true)
		}
	}

	if err := r.store.Destroy(); err != nil {
		return fmt.Errorf("removing metadata: %w", err)
	}
	r.Logger.Info("Repository is online")
	return nil
}

// Branch creates a new branch from the working tree or, with Last, from the
// current branch's last revision, and selects it unless Stay is set.
func (r *Repository) Branch(opts BranchOptions) (int, string, error) {
	if err := validation.Check(opts); err != nil {
		return 0, "", err
	}
	if _, exists := r.desc.FindBranch(opts.Name); exists {
		return 0, "", sosErrors.Precondition(fmt.Sprintf("branch %q already exists", opts.Name), false)
	}

	id := r.desc.NextBranchID()
	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("Branched from %d", r.desc.Branch)
	}

	var (
		msg string
		err error
	)
	if opts.Last {
		err = r.branches.Duplicate(r.desc, r.desc.Branch, id, opts.Name, message, !opts.Fast)
	} else {
		msg, err = r.branches.Create(r.desc, id, opts.Name, message)
	}
	if err != nil {
		return 0, "", fmt.Errorf("creating branch %d: %w", id, err)
	}

	if !opts.Stay {
		r.desc.Branch = id
	}
	if err := r.save(); err != nil {
		return 0, "", err
	}
	return id, msg, nil
}

// Commit records the working tree changes as the next revision of the current
// branch and returns its number. Blobs are written while the tree is scanned;
// without changes the prepared revision is discarded.
func (r *Repository) Commit(message string, opts CommitOptions) (int, string, error) {
	if err := validation.Message(message, opts.Tag); err != nil {
		return 0, "", err
	}
	if opts.Tag && r.desc.HasTag(message) {
		return 0, "", sosErrors.Precondition(fmt.Sprintf("tag %q already exists", message), false)
	}

	id := r.desc.Branch
	info, ok := r.desc.Branches[id]
	if !ok {
		return 0, "", sosErrors.NotFound(fmt.Sprintf("branch %d not found", id))
	}
	if err := r.loadBranch(id); err != nil {
		return 0, "", err
	}
	latest := meta.Latest(r.commits)
	if err := r.loadCommit(id, latest); err != nil {
		return 0, "", err
	}

	revision := latest + 1
	target := r.store.Layout().Revision(id, revision)
	changes, msg, err := r.detector.FindChanges(r.paths, r.scope(id, change.Options{Target: target}))
	if err != nil {
		r.discard(id, revision)
		return 0, "", err
	}
	if changes.Empty() && !opts.Force {
		r.discard(id, revision)
		return 0, "", sosErrors.Precondition("nothing to commit", true)
	}

	delta := make(map[string]meta.PathInfo, changes.Count())
	maps.Copy(delta, changes.Additions)
	maps.Copy(delta, changes.Modifications)
	for p, old := range changes.Deletions {
		delta[p] = old.Tombstone()
	}
	if err := r.store.SaveDelta(id, revision, delta); err != nil {
		return 0, "", err
	}
	r.commits[revision] = meta.CommitInfo{Number: revision, CTime: time.Now().UnixMilli(), Message: message}
	if err := r.store.SaveCommits(id, r.commits); err != nil {
		return 0, "", err
	}

	info.InSync = false
	if r.desc.Picky {
		info.Tracked = []string{}
	}
	if opts.Tag {
		r.desc.Tags = append(r.desc.Tags, message)
	}
	if err := r.save(); err != nil {
		return 0, "", err
	}

	r.Logger.Info("Committed revision",
		zap.Int("branch", id),
		zap.Int("revision", revision),
		zap.Int("added", len(changes.Additions)),
		zap.Int("deleted", len(changes.Deletions)),
		zap.Int("modified", len(changes.Modifications)))
	return revision, msg, nil
}

func (r *Repository) discard(branch, revision int) {
	if err := r.store.RemoveRevision(branch, revision); err != nil {
		r.Logger.Warn("Cannot remove prepared revision",
			zap.Int("branch", branch),
			zap.Int("revision", revision),
			zap.Error(err))
	}
}

// Switch makes the working tree match target and selects its branch. Local
// changes that would be lost need force; a local addition already equal to
// the target's file is not a conflict.
func (r *Repository) Switch(target string, force bool) error {
	local, err := r.localChanges()
	if err != nil {
		return err
	}

	id, revision, err := r.resolve(target)
	if err != nil {
		return err
	}
	if err := r.loadCommit(id, revision); err != nil {
		return err
	}
	todo, _, err := r.detector.FindChanges(r.paths, r.scope(id, change.Options{Inverse: true}))
	if err != nil {
		return err
	}

	if conflicts := conflicting(local, todo); len(conflicts) > 0 && !force {
		return sosErrors.Precondition(fmt.Sprintf("uncommitted changes would be lost: %s", summarize(conflicts)), true)
	}

	for _, p := range utils.SortedKeys(todo.Additions) {
		if err := r.workspace.Remove(p); err != nil {
			return err
		}
	}
	for _, m := range []map[string]meta.PathInfo{todo.Deletions, todo.Modifications} {
		for _, p := range utils.SortedKeys(m) {
			if err := r.restore(id, revision, p, m[p]); err != nil {
				return err
			}
		}
	}

	r.desc.Branch = id
	if err := r.save(); err != nil {
		return err
	}
	r.Logger.Info("Switched",
		zap.Int("branch", id),
		zap.Int("revision", revision),
		zap.Int("files", todo.Count()))
	return nil
}

// conflicting lists local changes a switch would overwrite. Local additions
// the switch leaves alone already equal the target.
func conflicting(local, todo change.ChangeSet) []string {
	touched := make(map[string]bool, todo.Count())
	for _, p := range todo.Paths() {
		touched[p] = true
	}

	var conflicts []string
	for _, p := range local.Paths() {
		if _, added := local.Additions[p]; added && !touched[p] {
			continue
		}
		conflicts = append(conflicts, p)
	}
	return conflicts
}

func summarize(paths []string) string {
	const shown = 5
	if len(paths) <= shown {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(paths[:shown], ", "), len(paths)-shown)
}

// Update integrates target into the working tree without switching. Files
// the target lacks are removed and files only it has are restored as FileOp
// allows; uncommitted local additions are never removed. Modified text files
// are merged line by line and binary ones are left to the resolver.
func (r *Repository) Update(target string, opts UpdateOptions) error {
	if err := validation.Check(opts); err != nil {
		return err
	}

	local, err := r.localChanges()
	if err != nil {
		return err
	}
	current := r.desc.Branches[r.desc.Branch]

	id, revision, err := r.resolve(target)
	if err != nil {
		return err
	}
	if err := r.loadCommit(id, revision); err != nil {
		return err
	}
	incoming, _, err := r.detector.FindChanges(r.paths, r.scope(id, change.Options{Inverse: true}))
	if err != nil {
		return err
	}

	for _, p := range utils.SortedKeys(incoming.Additions) {
		if _, uncommitted := local.Additions[p]; uncommitted {
			continue
		}
		apply, err := r.wants(opts.FileOp, p, false)
		if err != nil {
			return err
		}
		if apply {
			if err := r.workspace.Remove(p); err != nil {
				return err
			}
		}
	}

	for _, p := range utils.SortedKeys(incoming.Deletions) {
		apply, err := r.wants(opts.FileOp, p, true)
		if err != nil {
			return err
		}
		if apply {
			if err := r.restore(id, revision, p, incoming.Deletions[p]); err != nil {
				return err
			}
		}
	}

	for _, p := range utils.SortedKeys(incoming.Modifications) {
		if err := r.integrate(id, revision, p, incoming.Modifications[p], opts); err != nil {
			return fmt.Errorf("merging %s: %w", p, err)
		}
	}

	source := r.desc.Branches[id]
	current.Tracked = pattern.Union(current.Tracked, source.Tracked)
	current.InSync = false
	if err := r.save(); err != nil {
		return err
	}

	r.Logger.Info("Updated from branch",
		zap.Int("branch", id),
		zap.Int("revision", revision),
		zap.Int("files", incoming.Count()))
	return nil
}

// wants decides whether a whole-file insertion or removal is applied.
func (r *Repository) wants(op merge.Operation, p string, insert bool) (bool, error) {
	switch op {
	case merge.Both:
		return true, nil
	case merge.Insert:
		return insert, nil
	case merge.Remove:
		return !insert, nil
	default:
		return r.resolver.Apply(p, insert)
	}
}

// integrate merges the target's version of a modified file into the local
// one.
func (r *Repository) integrate(branch, revision int, p string, info meta.PathInfo, opts UpdateOptions) error {
	mine, err := r.workspace.Read(p)
	if err != nil {
		return err
	}
	theirs, err := r.blob(branch, revision, info)
	if err != nil {
		return err
	}

	var merged []byte
	if opts.FileOp == merge.Ask || r.workspace.IsBinary(p, mine) || r.workspace.IsBinary(p, theirs) {
		merged, err = r.resolver.File(p, mine, theirs)
	} else {
		merged, _, err = r.merger.Merge(theirs, mine, opts.LineOp, opts.CharOp, opts.EOL)
	}
	if err != nil {
		return err
	}

	if bytes.Equal(merged, mine) {
		return nil
	}
	return r.workspace.Write(p, merged)
}

// Destroy removes the branch named by target. Its dependents are made self
// contained first. The working tree must be unchanged unless forced.
func (r *Repository) Destroy(target string, force bool) error {
	if !force {
		changes, err := r.localChanges()
		if err != nil {
			return err
		}
		if !changes.Empty() {
			return sosErrors.Precondition(fmt.Sprintf("working tree has %d uncommitted change(s)", changes.Count()), true)
		}
	}

	id, _, err := r.resolve(target)
	if err != nil {
		return err
	}
	wasCurrent := id == r.desc.Branch
	if err := r.branches.Remove(r.desc, id); err != nil {
		return err
	}
	if err := r.save(); err != nil {
		return err
	}

	if wasCurrent {
		r.Logger.Warn("Removed the current branch, working tree left as is",
			zap.Int("branch", id),
			zap.Int("current", r.desc.Branch))
	}
	return nil
}

// Track adds a file pattern to the current branch. Negative patterns exclude
// files matched by the positive ones.
func (r *Repository) Track(p string, negative bool) error {
	list, err := r.patterns(p, negative)
	if err != nil {
		return err
	}
	p = normalizePattern(p)
	if slices.Contains(*list, p) {
		r.Logger.Info("Pattern already present", zap.String("pattern", p))
		return nil
	}
	*list = append(*list, p)
	return r.save()
}

// Untrack removes a file pattern from the current branch.
func (r *Repository) Untrack(p string, negative bool) error {
	list, err := r.patterns(p, negative)
	if err != nil {
		return err
	}
	p = normalizePattern(p)
	i := slices.Index(*list, p)
	if i < 0 {
		return sosErrors.NotFound(fmt.Sprintf("pattern %q is not tracked", p))
	}
	*list = slices.Delete(*list, i, i+1)
	return r.save()
}

func (r *Repository) patterns(p string, negative bool) (*[]string, error) {
	if !r.desc.Tracking() {
		return nil, sosErrors.Precondition("file patterns are only used in track or picky mode", false)
	}
	if err := validation.Pattern(p); err != nil {
		return nil, err
	}
	info, ok := r.desc.Branches[r.desc.Branch]
	if !ok {
		return nil, sosErrors.NotFound(fmt.Sprintf("branch %d not found", r.desc.Branch))
	}
	if negative {
		return &info.Untracked, nil
	}
	return &info.Tracked, nil
}

func normalizePattern(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	return path.Clean(p)
}
