// internal/change/detector.go
package change

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"sos/internal/meta"
	"sos/internal/pattern"
	"sos/internal/safe"
	"sos/shared/utils"

	"go.uber.org/zap"
)

// Detector compares path snapshots with the working tree under Root.
type Detector struct {
	Root   string
	Safe   *safe.Safe
	Filter pattern.Filter
	Logger *zap.Logger
}

func NewDetector(root string, contentSafe *safe.Safe, filter pattern.Filter, logger *zap.Logger) (*Detector, error) {
	if root == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}
	if contentSafe == nil {
		return nil, fmt.Errorf("contentSafe cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Detector{
		Root:   root,
		Safe:   contentSafe,
		Filter: filter,
		Logger: logger,
	}, nil
}

type writeStats struct {
	original int64
	written  int64
}

// FindChanges walks the working tree and classifies every considered file
// against paths. The returned message reports the compression ratio when
// blobs were written compressed.
func (d *Detector) FindChanges(paths map[string]meta.PathInfo, opts Options) (ChangeSet, string, error) {
	changes := NewChangeSet()
	var (
		stats   writeStats
		scanned int
	)

	// Known live paths; whatever the walk does not visit is deleted.
	pending := make(map[string]struct{}, len(paths))
	for p, info := range paths {
		if !info.Deleted() && opts.considers(p) {
			pending[p] = struct{}{}
		}
	}

	err := filepath.WalkDir(d.Root, func(abs string, entry fs.DirEntry, err error) error {
		if err != nil {
			if abs == d.Root {
				return err
			}
			d.Logger.Warn("Skipping unreadable entry", zap.String("path", abs), zap.Error(err))
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := entry.Name()
		if entry.IsDir() {
			if abs == d.Root {
				return nil
			}
			if name == meta.Dir || d.Filter.IgnoreDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || d.Filter.IgnoreFile(name) {
			return nil
		}

		rel, err := filepath.Rel(d.Root, abs)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)
		if !opts.considers(rel) {
			return nil
		}
		delete(pending, rel)

		d.classify(rel, abs, paths, opts, &changes, &stats)
		scanned++
		if opts.Progress != nil {
			opts.Progress(scanned)
		}
		return nil
	})
	if err != nil {
		return changes, "", fmt.Errorf("walking %s: %w", d.Root, err)
	}

	for p := range pending {
		if d.Filter.IgnoreFile(path.Base(p)) {
			continue
		}
		changes.Deletions[p] = paths[p]
	}

	detectMoves(&changes)

	var msg string
	if opts.Target != "" && d.Safe.Compressing() && stats.original > 0 {
		advantage := 100 * (1 - float64(stats.written)/float64(stats.original))
		msg = fmt.Sprintf("Compression advantage is %.1f%%", advantage)
	}
	return changes, msg, nil
}

func (d *Detector) classify(rel, abs string, paths map[string]meta.PathInfo, opts Options, changes *ChangeSet, stats *writeStats) {
	info, err := os.Stat(abs)
	if err != nil {
		d.Logger.Warn("Cannot stat file", zap.String("path", rel), zap.Error(err))
		return
	}
	size := info.Size()
	mtime := info.ModTime().UnixMilli()

	old, known := paths[rel]
	if !known || old.Deleted() {
		nameHash := safe.NameHash(rel)
		if known {
			nameHash = old.NameHash
		}
		hash, err := d.snapshot(abs, size, nameHash, opts.Target, stats)
		if err != nil {
			d.Logger.Warn("Cannot hash file", zap.String("path", rel), zap.Error(err))
			return
		}
		changes.Additions[rel] = meta.PathInfo{NameHash: nameHash, Size: meta.SizeOf(size), MTime: mtime, Hash: hash}
		return
	}

	changed := *old.Size != size || (!opts.Strict && old.MTime != mtime)
	var hash string
	if !changed && opts.Strict {
		if hash, err = d.snapshot(abs, size, old.NameHash, "", stats); err != nil {
			d.Logger.Warn("Cannot hash file", zap.String("path", rel), zap.Error(err))
			return
		}
		changed = hash != old.Hash
	}
	if !changed {
		return
	}

	if hash == "" || opts.Target != "" {
		if hash, err = d.snapshot(abs, size, old.NameHash, opts.Target, stats); err != nil {
			d.Logger.Warn("Cannot hash file", zap.String("path", rel), zap.Error(err))
			return
		}
	}
	if opts.Inverse {
		changes.Modifications[rel] = old
	} else {
		changes.Modifications[rel] = meta.PathInfo{NameHash: old.NameHash, Size: meta.SizeOf(size), MTime: mtime, Hash: hash}
	}
}

// snapshot hashes a file and, with a target, stores its blob there.
func (d *Detector) snapshot(abs string, size int64, nameHash, target string, stats *writeStats) (string, error) {
	if size == 0 {
		return safe.EmptyHash, nil
	}
	saveTo := ""
	if target != "" {
		saveTo = filepath.Join(target, nameHash)
	}
	hash, written, err := d.Safe.HashFile(abs, saveTo)
	if err != nil {
		return "", err
	}
	if saveTo != "" {
		stats.original += size
		stats.written += written
	}
	return hash, nil
}

// detectMoves pairs additions with deletions of identical size, mtime and
// hash. Each deletion is used at most once.
func detectMoves(changes *ChangeSet) {
	if len(changes.Additions) == 0 || len(changes.Deletions) == 0 {
		return
	}

	deleted := utils.SortedKeys(changes.Deletions)
	used := make(map[string]bool, len(deleted))
	added := utils.SortedKeys(changes.Additions)

	for _, to := range added {
		add := changes.Additions[to]
		for _, from := range deleted {
			if used[from] {
				continue
			}
			if add.Same(changes.Deletions[from]) {
				changes.Moves[to] = Move{From: from, Info: add}
				used[from] = true
				break
			}
		}
	}
}
