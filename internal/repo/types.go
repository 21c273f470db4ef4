package repo

import (
	"sos/internal/branch"
	"sos/internal/change"
	"sos/internal/config"
	"sos/internal/diff"
	sosErrors "sos/internal/errors"
	"sos/internal/history"
	"sos/internal/merge"
	"sos/internal/meta"
	"sos/internal/safe"
	"sos/internal/validation"
	"sos/internal/workspace"

	"go.uber.org/zap"
)

// Repository is one offline working directory. It is built per command and
// is not safe for concurrent use.
type Repository struct {
	Root   string
	Config *config.Config
	Logger *zap.Logger

	store     meta.Store
	safe      *safe.Safe
	replayer  *history.Replayer
	detector  *change.Detector
	branches  *branch.Manager
	workspace *workspace.LocalWorkspace
	merger    *merge.Merger
	resolver  merge.Resolver
	diffs     *diff.Engine

	desc *meta.Descriptor
	// strict replaces desc.Strict when set.
	strict   *bool
	progress func(int)
	// commits belongs to the branch last passed to loadBranch and paths to
	// the revision last passed to loadCommit.
	commits map[int]meta.CommitInfo
	paths   map[string]meta.PathInfo
}

var (
	_ validation.Validator = BranchOptions{}
	_ validation.Validator = UpdateOptions{}
)

// Option customizes a Repository.
type Option func(*Repository)

// WithResolver sets who answers merge questions during Update. Without it
// the local side is kept.
func WithResolver(resolver merge.Resolver) Option {
	return func(r *Repository) {
		r.resolver = resolver
	}
}

// WithStrict overrides the repository's strict mode for one invocation.
func WithStrict(on bool) Option {
	return func(r *Repository) {
		r.strict = &on
	}
}

// WithProgress receives the number of files scanned so far while the working
// tree is walked.
func WithProgress(fn func(scanned int)) Option {
	return func(r *Repository) {
		r.progress = fn
	}
}

// WithContextLines sets the number of context lines around diff hunks.
func WithContextLines(n int) Option {
	return func(r *Repository) {
		r.diffs = diff.NewEngine(n)
	}
}

type BranchOptions struct {
	Name    string
	Message string
	// Last branches from the current branch's last revision instead of the
	// working tree.
	Last bool
	// Fast records only a reference to the current branch. Requires Last.
	Fast bool
	// Stay keeps the current branch selected.
	Stay bool
}

func (o BranchOptions) Validate() error {
	if err := validation.BranchName(o.Name); err != nil {
		return err
	}
	if o.Fast && !o.Last {
		return sosErrors.ValidationError("fast branches can only be made from the last revision", nil)
	}
	return validation.Message(o.Message, false)
}

type CommitOptions struct {
	// Force records a revision even without changes.
	Force bool
	// Tag adds the message to the repository's tags.
	Tag bool
}

// UpdateOptions selects what Update applies at file, line and character
// level.
type UpdateOptions struct {
	FileOp merge.Operation
	LineOp merge.Operation
	CharOp merge.Operation
	EOL    merge.EOL
}

func DefaultUpdateOptions() UpdateOptions {
	return UpdateOptions{FileOp: merge.Both, LineOp: merge.Both, CharOp: merge.Both, EOL: merge.AutoEOL}
}

func (o UpdateOptions) Validate() error {
	for _, op := range []merge.Operation{o.FileOp, o.LineOp, o.CharOp} {
		if op < merge.Insert || op > merge.Ask {
			return sosErrors.ValidationError("unknown merge operation", op)
		}
	}
	if o.EOL < merge.AutoEOL || o.EOL > merge.CRLF {
		return sosErrors.ValidationError("unknown line ending", o.EOL)
	}
	return nil
}

// FileDiff is the difference of one path between a revision and the working
// tree. Result is nil for binary files.
type FileDiff struct {
	Path   string
	Kind   string // added, deleted, modified
	Binary bool
	Result *diff.DiffResult
}

type BranchStatus struct {
	Info      *meta.BranchInfo
	Revisions int
	Current   bool
}

type Status struct {
	Branch   int
	Modes    meta.Modes
	Branches []BranchStatus
	Changes  change.ChangeSet
}

// LogEntry summarizes one revision by the number of paths it touched.
type LogEntry struct {
	Commit   meta.CommitInfo
	Added    int
	Deleted  int
	Modified int
	Tagged   bool
}
