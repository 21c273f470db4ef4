// Package repo composes the metadata store, change detection, history replay
// and branch management into the repository commands.
package repo

import (
	"fmt"
	"slices"
	"strconv"

	"sos/internal/branch"
	"sos/internal/change"
	"sos/internal/config"
	"sos/internal/diff"
	sosErrors "sos/internal/errors"
	"sos/internal/history"
	"sos/internal/merge"
	"sos/internal/meta"
	"sos/internal/pattern"
	"sos/internal/safe"
	"sos/internal/validation"
	"sos/internal/workspace"
	"sos/shared/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultContextLines = 3

// Offline starts version control of root: it creates the metadata folder and
// records the working tree as branch 0.
func Offline(root string, cfg *config.Config, logger *zap.Logger, name string, modes meta.Modes, opts ...Option) (*Repository, error) {
	if err := validation.BranchName(name); err != nil {
		return nil, err
	}
	layout := meta.Layout{Root: root}
	if meta.Exists(layout) {
		return nil, sosErrors.Precondition("repository is already offline", false)
	}

	store, err := meta.Open(layout, cfg.Storage.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	desc := meta.NewDescriptor(modes)
	desc.ID = uuid.NewString()
	r, err := assemble(root, cfg, logger, store, desc, opts)
	if err != nil {
		store.Destroy()
		return nil, err
	}

	msg, err := r.branches.Create(desc, 0, name, "Offline")
	if err != nil {
		store.Destroy()
		return nil, fmt.Errorf("recording working tree: %w", err)
	}
	desc.Branch = 0
	desc.Branches[0].InSync = true
	if err := store.SaveDescriptor(desc); err != nil {
		store.Destroy()
		return nil, err
	}

	r.Logger.Info("Repository is offline",
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("track", modes.Track),
		zap.Bool("picky", modes.Picky),
		zap.Bool("strict", modes.Strict),
		zap.Bool("compress", modes.Compress))
	if msg != "" {
		r.Logger.Info(msg)
	}
	return r, nil
}

// Open loads the repository at root. An unusable descriptor is replaced by
// defaults with a warning; a migrated one is saved once.
func Open(root string, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Repository, error) {
	layout := meta.Layout{Root: root}
	if !meta.Exists(layout) {
		return nil, sosErrors.NotFound(fmt.Sprintf("%s is not offline", root))
	}

	store, err := meta.Open(layout, meta.DetectBackend(layout), logger)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	desc, err := store.LoadDescriptor()
	switch {
	case err == nil:
		if desc.MigratedFrom >= 0 {
			logger.Warn("Migrated repository descriptor",
				zap.Int("from", desc.MigratedFrom),
				zap.Int("to", desc.Format))
			if err := store.SaveDescriptor(desc); err != nil {
				store.Close()
				return nil, err
			}
		}
	case sosErrors.Is(err, sosErrors.ErrorTypeNotFound), sosErrors.Is(err, sosErrors.ErrorTypeCorrupt):
		logger.Warn("Repository descriptor is unusable, using defaults", zap.Error(err))
		desc = meta.NewDescriptor(defaultModes(cfg))
	default:
		store.Close()
		return nil, err
	}

	r, err := assemble(root, cfg, logger, store, desc, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return r, nil
}

func defaultModes(cfg *config.Config) meta.Modes {
	return meta.Modes{
		Track:    cfg.Defaults.Track,
		Picky:    cfg.Defaults.Picky,
		Strict:   cfg.Defaults.Strict,
		Compress: cfg.Defaults.Compress,
	}
}

func assemble(root string, cfg *config.Config, logger *zap.Logger, store meta.Store, desc *meta.Descriptor, opts []Option) (*Repository, error) {
	effective := cfg.WithOverlay(desc.Config)
	if desc.ID != "" {
		logger = logger.With(zap.String("repository", desc.ID))
	}

	contentSafe, err := safe.New(safe.Options{
		Compress:  desc.Compress,
		Level:     effective.Compression.Level,
		CacheSize: effective.Storage.CacheSize,
	})
	if err != nil {
		return nil, sosErrors.Internal("creating content safe", err)
	}

	replayer, err := history.NewReplayer(store, effective.Storage.CacheSize, logger)
	if err != nil {
		return nil, err
	}

	detector, err := change.NewDetector(root, contentSafe, filterOf(effective), logger)
	if err != nil {
		return nil, err
	}

	r := &Repository{
		Root:      root,
		Config:    effective,
		Logger:    logger,
		store:     store,
		safe:      contentSafe,
		replayer:  replayer,
		detector:  detector,
		branches:  branch.NewManager(store, replayer, contentSafe, detector, logger),
		workspace: workspace.NewLocalWorkspace(root, contentSafe, effective.TextTypes, effective.BinaryTypes, logger),
		resolver:  merge.Prefer{},
		diffs:     diff.NewEngine(defaultContextLines),
		desc:      desc,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.merger = merge.NewMerger(r.resolver)
	return r, nil
}

func filterOf(cfg *config.Config) pattern.Filter {
	return pattern.Filter{
		Files:          pattern.Names(cfg.Ignores.Files),
		FilesWhitelist: pattern.Names(cfg.Ignores.FilesWhitelist),
		Dirs:           pattern.Names(cfg.Ignores.Dirs),
		DirsWhitelist:  pattern.Names(cfg.Ignores.DirsWhitelist),
	}
}

func (r *Repository) Close() error {
	return r.store.Close()
}

// ID is the repository identifier assigned when it went offline.
func (r *Repository) ID() string {
	return r.desc.ID
}

// Current returns the selected branch.
func (r *Repository) Current() int {
	return r.desc.Branch
}

func (r *Repository) Modes() meta.Modes {
	return r.desc.Modes
}

// BranchInfo returns a copy of the branch's metadata.
func (r *Repository) BranchInfo(id int) (*meta.BranchInfo, bool) {
	info, ok := r.desc.Branches[id]
	if !ok {
		return nil, false
	}
	return info.Clone(), true
}

// Tags lists the tagged commit messages in creation order.
func (r *Repository) Tags() []string {
	return slices.Clone(r.desc.Tags)
}

// Filter is the ignore configuration applied to the working tree.
func (r *Repository) Filter() pattern.Filter {
	return r.detector.Filter
}

func (r *Repository) save() error {
	return r.store.SaveDescriptor(r.desc)
}

// loadBranch selects the commit log of branch.
func (r *Repository) loadBranch(branch int) error {
	commits, err := r.store.LoadCommits(branch)
	if err != nil {
		return err
	}
	r.commits = commits
	return nil
}

// loadCommit selects the full path state of branch at revision.
func (r *Repository) loadCommit(branch, revision int) error {
	paths, err := r.replayer.Snapshot(r.desc.Branches, branch, revision)
	if err != nil {
		return err
	}
	r.paths = paths
	return nil
}

// scope fills in the strictness and, in tracking modes, the patterns of
// branch.
func (r *Repository) scope(branch int, opts change.Options) change.Options {
	opts.Strict = r.desc.Strict
	if r.strict != nil {
		opts.Strict = *r.strict
	}
	opts.Progress = r.progress
	if r.desc.Tracking() {
		info := r.desc.Branches[branch]
		opts.Considered = pattern.Paths(info.Tracked)
		opts.Excluded = pattern.Paths(info.Untracked)
	}
	return opts
}

// resolve turns a revision argument into a branch and revision and loads
// that branch's commits. Accepted forms are a tag, "branch", "/revision" and
// "branch/revision", where branch is a name or number and a negative
// revision counts back from the last one (-1 is the last).
func (r *Repository) resolve(arg string) (int, int, error) {
	if arg != "" && r.desc.HasTag(arg) {
		return r.findTag(arg)
	}

	branchPart, revisionPart, err := validation.RevisionArg(arg)
	if err != nil {
		return 0, 0, err
	}

	id := r.desc.Branch
	switch {
	case branchPart == "":
	case validation.IsNumber(branchPart):
		id, _ = strconv.Atoi(branchPart)
	default:
		var ok bool
		if id, ok = r.desc.FindBranch(branchPart); !ok {
			return 0, 0, sosErrors.NotFound(fmt.Sprintf("unknown branch %q", branchPart))
		}
	}
	if _, ok := r.desc.Branches[id]; !ok {
		return 0, 0, sosErrors.NotFound(fmt.Sprintf("branch %d not found", id))
	}

	if err := r.loadBranch(id); err != nil {
		return 0, 0, err
	}
	latest := meta.Latest(r.commits)
	if revisionPart == "" {
		return id, latest, nil
	}

	revision, _ := strconv.Atoi(revisionPart)
	if revision < 0 {
		revision += latest + 1
	}
	if _, ok := r.commits[revision]; !ok {
		return 0, 0, sosErrors.NotFound(fmt.Sprintf("revision %s does not exist in branch %d", revisionPart, id))
	}
	return id, revision, nil
}

// findTag returns the first commit carrying tag as its message.
func (r *Repository) findTag(tag string) (int, int, error) {
	for _, id := range r.desc.BranchIDs() {
		if err := r.loadBranch(id); err != nil {
			return 0, 0, err
		}
		for _, c := range utils.MapToSlice(r.commits) {
			if c.Message == tag {
				return id, c.Number, nil
			}
		}
	}
	return 0, 0, sosErrors.NotFound(fmt.Sprintf("tag %q has no commit", tag))
}

// localChanges compares the working tree with the current branch's last
// revision.
func (r *Repository) localChanges() (change.ChangeSet, error) {
	id := r.desc.Branch
	if _, ok := r.desc.Branches[id]; !ok {
		return change.ChangeSet{}, sosErrors.NotFound(fmt.Sprintf("branch %d not found", id))
	}
	if err := r.loadBranch(id); err != nil {
		return change.ChangeSet{}, err
	}
	if err := r.loadCommit(id, meta.Latest(r.commits)); err != nil {
		return change.ChangeSet{}, err
	}
	changes, _, err := r.detector.FindChanges(r.paths, r.scope(id, change.Options{}))
	return changes, err
}

// blob returns the content info had at revision of branch.
func (r *Repository) blob(branch, revision int, info meta.PathInfo) ([]byte, error) {
	if *info.Size == 0 {
		return nil, nil
	}
	_, blob, err := r.replayer.FindRevision(r.desc.Branches, branch, revision, info.NameHash)
	if err != nil {
		return nil, err
	}
	return r.safe.Read(blob)
}

// restore writes the state info describes at revision of branch to path.
func (r *Repository) restore(branch, revision int, path string, info meta.PathInfo) error {
	var blob string
	if *info.Size > 0 {
		var err error
		if _, blob, err = r.replayer.FindRevision(r.desc.Branches, branch, revision, info.NameHash); err != nil {
			return fmt.Errorf("locating %s: %w", path, err)
		}
	}
	return r.workspace.Restore(path, blob, info.MTime)
}
