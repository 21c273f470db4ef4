// internal/workspace/local.go
package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	sosErrors "sos/internal/errors"
	"sos/internal/meta"
	"sos/internal/pattern"
	"sos/internal/safe"

	"go.uber.org/zap"
)

// sniffLength is how much of a file is inspected for NUL bytes.
const sniffLength = 8000

// FindRoot searches for the workspace root by looking for the metadata
// directory in startDir and its parents.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if meta.Exists(meta.Layout{Root: dir}) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", sosErrors.NotFound("no offline repository found in " + startDir + " or its parents")
}

// LocalWorkspace reads and rewrites files of the working tree.
type LocalWorkspace struct {
	Root   string
	Safe   *safe.Safe
	Logger *zap.Logger

	textTypes   *pattern.Set
	binaryTypes *pattern.Set
}

// NewLocalWorkspace creates a workspace. Names matching textTypes are always
// treated as text and names matching binaryTypes as binary, regardless of
// their content.
func NewLocalWorkspace(root string, contentSafe *safe.Safe, textTypes, binaryTypes []string, logger *zap.Logger) *LocalWorkspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalWorkspace{
		Root:        root,
		Safe:        contentSafe,
		Logger:      logger,
		textTypes:   pattern.Names(textTypes),
		binaryTypes: pattern.Names(binaryTypes),
	}
}

// Abs converts a slash-separated relative path to an absolute one.
func (w *LocalWorkspace) Abs(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// Read returns the current content of rel.
func (w *LocalWorkspace) Read(rel string) ([]byte, error) {
	return os.ReadFile(w.Abs(rel))
}

// Restore writes the content of blob to rel and sets its modification time.
// An empty blob path restores an empty file.
func (w *LocalWorkspace) Restore(rel, blob string, mtime int64) error {
	var content []byte
	if blob != "" {
		var err error
		if content, err = w.Safe.Read(blob); err != nil {
			return fmt.Errorf("reading blob for %s: %w", rel, err)
		}
	}
	if err := w.Write(rel, content); err != nil {
		return err
	}

	modified := time.UnixMilli(mtime)
	if err := os.Chtimes(w.Abs(rel), modified, modified); err != nil {
		return fmt.Errorf("setting time of %s: %w", rel, err)
	}
	return nil
}

// Write replaces the content of rel, creating parent directories.
func (w *LocalWorkspace) Write(rel string, content []byte) error {
	abs := w.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, content, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	w.Logger.Debug("Wrote file", zap.String("path", rel), zap.Int("size", len(content)))
	return nil
}

// Remove deletes rel and any parent directories it leaves empty. A missing
// file is not an error.
func (w *LocalWorkspace) Remove(rel string) error {
	if err := os.Remove(w.Abs(rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	w.Logger.Debug("Removed file", zap.String("path", rel))

	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		entries, err := os.ReadDir(w.Abs(dir))
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(w.Abs(dir)); err != nil {
			break
		}
	}
	return nil
}

// IsBinary decides whether rel cannot be merged line by line. Configured
// type patterns win; otherwise content with a NUL byte is binary.
func (w *LocalWorkspace) IsBinary(rel string, content []byte) bool {
	name := path.Base(rel)
	if w.textTypes.Match(name) {
		return false
	}
	if w.binaryTypes.Match(name) {
		return true
	}
	return bytes.IndexByte(content[:min(len(content), sniffLength)], 0) >= 0
}
