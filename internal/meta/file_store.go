package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	sosErrors "sos/internal/errors"

	"go.uber.org/zap"
)

// FileStore keeps all metadata as JSON files under the metadata folder.
type FileStore struct {
	layout Layout
	logger *zap.Logger
}

func NewFileStore(layout Layout, logger *zap.Logger) *FileStore {
	return &FileStore{layout: layout, logger: logger}
}

func (s *FileStore) Layout() Layout {
	return s.layout
}

func (s *FileStore) LoadDescriptor() (*Descriptor, error) {
	data, err := os.ReadFile(s.layout.DescriptorFile())
	if errors.Is(err, os.ErrNotExist) {
		return nil, sosErrors.NotFound("repository descriptor not found")
	}
	if err != nil {
		return nil, sosErrors.Corrupt("reading repository descriptor", err)
	}

	d, err := DecodeDescriptor(data)
	if err != nil {
		return nil, sosErrors.Corrupt("repository descriptor is unreadable", err)
	}
	return d, nil
}

func (s *FileStore) SaveDescriptor(d *Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling descriptor: %w", err)
	}
	if err := writeWithBackup(s.layout.DescriptorFile(), data); err != nil {
		return fmt.Errorf("saving descriptor: %w", err)
	}
	return nil
}

func (s *FileStore) LoadCommits(branch int) (map[int]CommitInfo, error) {
	data, err := os.ReadFile(s.layout.CommitsFile(branch))
	if err != nil {
		return nil, sosErrors.Corrupt(fmt.Sprintf("commit log of branch %d is unreadable", branch), err)
	}
	commits, err := decodeCommits(data)
	if err != nil {
		return nil, sosErrors.Corrupt(fmt.Sprintf("commit log of branch %d is unreadable", branch), err)
	}
	return commits, nil
}

func (s *FileStore) SaveCommits(branch int, commits map[int]CommitInfo) error {
	data, err := encodeCommits(commits)
	if err != nil {
		return fmt.Errorf("marshaling commits: %w", err)
	}
	if err := writeWithBackup(s.layout.CommitsFile(branch), data); err != nil {
		return fmt.Errorf("saving commits of branch %d: %w", branch, err)
	}
	return nil
}

func (s *FileStore) LoadDelta(branch, revision int) (map[string]PathInfo, error) {
	data, err := os.ReadFile(s.layout.DeltaFile(branch, revision))
	if err != nil {
		return nil, corruptRevision(branch, revision, err)
	}
	var paths map[string]PathInfo
	if err := json.Unmarshal(data, &paths); err != nil {
		return nil, corruptRevision(branch, revision, err)
	}
	if paths == nil {
		paths = map[string]PathInfo{}
	}
	return paths, nil
}

func (s *FileStore) SaveDelta(branch, revision int, paths map[string]PathInfo) error {
	data, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling delta: %w", err)
	}
	if err := writeWithBackup(s.layout.DeltaFile(branch, revision), data); err != nil {
		return fmt.Errorf("saving delta %d/%d: %w", branch, revision, err)
	}
	return nil
}

func (s *FileStore) CopyRevision(from, revision, to int) error {
	if err := copyFiles(s.layout.Revision(from, revision), s.layout.Revision(to, revision), isBackup); err != nil {
		return fmt.Errorf("copying revision %d/%d to branch %d: %w", from, revision, to, err)
	}
	return nil
}

func (s *FileStore) RemoveRevision(branch, revision int) error {
	return os.RemoveAll(s.layout.Revision(branch, revision))
}

func (s *FileStore) RetireBranch(branch int) error {
	if err := retireDir(s.layout.Branch(branch)); err != nil {
		return fmt.Errorf("retiring branch %d: %w", branch, err)
	}
	s.logger.Debug("Retired branch folder", zap.Int("branch", branch))
	return nil
}

func (s *FileStore) Destroy() error {
	return os.RemoveAll(s.layout.Meta())
}

func (s *FileStore) Close() error {
	return nil
}
