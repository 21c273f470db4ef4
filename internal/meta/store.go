package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"sos/internal/config"
	sosErrors "sos/internal/errors"

	"go.uber.org/zap"
)

// Store persists the descriptor, per-branch commit logs and per-revision
// deltas. Blob files always live in the revision folders of Layout.
type Store interface {
	Layout() Layout

	LoadDescriptor() (*Descriptor, error)
	SaveDescriptor(d *Descriptor) error

	LoadCommits(branch int) (map[int]CommitInfo, error)
	SaveCommits(branch int, commits map[int]CommitInfo) error

	// LoadDelta returns the changes recorded for exactly one revision.
	LoadDelta(branch, revision int) (map[string]PathInfo, error)
	SaveDelta(branch, revision int, paths map[string]PathInfo) error

	// CopyRevision copies a revision's delta and blobs from one branch to
	// another.
	CopyRevision(from, revision, to int) error
	// RemoveRevision discards a revision that was prepared but not recorded.
	RemoveRevision(branch, revision int) error
	// RetireBranch moves a branch's data aside as a backup.
	RetireBranch(branch int) error
	// Destroy removes all metadata.
	Destroy() error

	Close() error
}

// Open returns the store for the configured backend.
func Open(layout Layout, backend string, logger *zap.Logger) (Store, error) {
	switch backend {
	case config.BackendFile, "":
		return NewFileStore(layout, logger), nil
	case config.BackendBadger:
		return OpenBadgerStore(layout, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// DetectBackend returns the backend an existing repository was created with.
func DetectBackend(layout Layout) string {
	if info, err := os.Stat(layout.Database()); err == nil && info.IsDir() {
		return config.BackendBadger
	}
	return config.BackendFile
}

// Exists reports whether a repository has been initialized at layout.
func Exists(layout Layout) bool {
	info, err := os.Stat(layout.Meta())
	return err == nil && info.IsDir()
}

func commitList(commits map[int]CommitInfo) []CommitInfo {
	numbers := make([]int, 0, len(commits))
	for n := range commits {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)

	list := make([]CommitInfo, 0, len(numbers))
	for _, n := range numbers {
		list = append(list, commits[n])
	}
	return list
}

func encodeCommits(commits map[int]CommitInfo) ([]byte, error) {
	return json.MarshalIndent(commitList(commits), "", "  ")
}

func decodeCommits(data []byte) (map[int]CommitInfo, error) {
	var list []CommitInfo
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	commits := make(map[int]CommitInfo, len(list))
	for _, c := range list {
		commits[c.Number] = c
	}
	return commits, nil
}

// writeWithBackup copies the existing file to path+".bak" before replacing
// it.
func writeWithBackup(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	old, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := os.WriteFile(path+backupSuffix, old, 0644); err != nil {
			return fmt.Errorf("writing backup: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("reading previous version: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// copyFiles copies the regular files of src into dst, skipping any name for
// which skip returns true. A missing src only creates dst.
func copyFiles(src, dst string, skip func(name string) bool) error {
	entries, err := os.ReadDir(src)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || (skip != nil && skip(entry.Name())) {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// retireDir renames dir to dir+".bak", replacing an older backup.
func retireDir(dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	backup := dir + backupSuffix
	if err := os.RemoveAll(backup); err != nil {
		return err
	}
	return os.Rename(dir, backup)
}

func corruptRevision(branch, revision int, err error) error {
	return sosErrors.Corrupt(fmt.Sprintf("revision %d/%d is unreadable", branch, revision), err)
}

func isBackup(name string) bool {
	return strings.HasSuffix(name, backupSuffix)
}
