package meta

import (
	"errors"
	"fmt"
	"os"

	sosErrors "sos/internal/errors"
	"sos/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	badgerPrefix  = "sos"
	descriptorKey = "repo"
	retiredPrefix = "retired:"
)

// BadgerStore keeps descriptor, commit logs and deltas in a badger database.
// Blob files stay in the revision folders.
type BadgerStore struct {
	layout  Layout
	db      *badger.DB
	ownsDB  bool
	entries *storage.BadgerStore
	logger  *zap.Logger
}

// OpenBadgerStore opens (or creates) the database under the metadata folder.
func OpenBadgerStore(layout Layout, logger *zap.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(layout.Database(), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	opts := badger.DefaultOptions(layout.Database())
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := NewBadgerStore(layout, db, logger)
	s.ownsDB = true
	return s, nil
}

// NewBadgerStore wraps an already open database.
func NewBadgerStore(layout Layout, db *badger.DB, logger *zap.Logger) *BadgerStore {
	return &BadgerStore{
		layout:  layout,
		db:      db,
		entries: storage.NewBadgerStore(db, badgerPrefix),
		logger:  logger,
	}
}

func branchKey(branch int) string {
	return fmt.Sprintf("b%d:", branch)
}

func commitsKey(branch int) string {
	return branchKey(branch) + "commits"
}

func deltaKey(branch, revision int) string {
	return fmt.Sprintf("%sr%d", branchKey(branch), revision)
}

func (s *BadgerStore) Layout() Layout {
	return s.layout
}

func (s *BadgerStore) LoadDescriptor() (*Descriptor, error) {
	data, err := s.entries.GetRaw(descriptorKey)
	if errors.Is(err, storage.ErrNotFound) {
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

func (s *BadgerStore) SaveDescriptor(d *Descriptor) error {
	if err := s.entries.Put(descriptorKey, d); err != nil {
		return fmt.Errorf("saving descriptor: %w", err)
	}
	return nil
}

func (s *BadgerStore) LoadCommits(branch int) (map[int]CommitInfo, error) {
	data, err := s.entries.GetRaw(commitsKey(branch))
	if err != nil {
		return nil, sosErrors.Corrupt(fmt.Sprintf("commit log of branch %d is unreadable", branch), err)
	}
	commits, err := decodeCommits(data)
	if err != nil {
		return nil, sosErrors.Corrupt(fmt.Sprintf("commit log of branch %d is unreadable", branch), err)
	}
	return commits, nil
}

func (s *BadgerStore) SaveCommits(branch int, commits map[int]CommitInfo) error {
	if err := s.entries.Put(commitsKey(branch), commitList(commits)); err != nil {
		return fmt.Errorf("saving commits of branch %d: %w", branch, err)
	}
	return nil
}

func (s *BadgerStore) LoadDelta(branch, revision int) (map[string]PathInfo, error) {
	var paths map[string]PathInfo
	if err := s.entries.Get(deltaKey(branch, revision), &paths); err != nil {
		return nil, corruptRevision(branch, revision, err)
	}
	if paths == nil {
		paths = map[string]PathInfo{}
	}
	return paths, nil
}

func (s *BadgerStore) SaveDelta(branch, revision int, paths map[string]PathInfo) error {
	if err := os.MkdirAll(s.layout.Revision(branch, revision), 0755); err != nil {
		return fmt.Errorf("creating revision folder: %w", err)
	}
	if err := s.entries.Put(deltaKey(branch, revision), paths); err != nil {
		return fmt.Errorf("saving delta %d/%d: %w", branch, revision, err)
	}
	return nil
}

func (s *BadgerStore) CopyRevision(from, revision, to int) error {
	paths, err := s.LoadDelta(from, revision)
	if err != nil {
		return err
	}
	if err := s.entries.Put(deltaKey(to, revision), paths); err != nil {
		return fmt.Errorf("copying delta %d/%d to branch %d: %w", from, revision, to, err)
	}
	if err := copyFiles(s.layout.Revision(from, revision), s.layout.Revision(to, revision), isBackup); err != nil {
		return fmt.Errorf("copying revision %d/%d to branch %d: %w", from, revision, to, err)
	}
	return nil
}

func (s *BadgerStore) RemoveRevision(branch, revision int) error {
	if err := s.entries.Delete(deltaKey(branch, revision)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return os.RemoveAll(s.layout.Revision(branch, revision))
}

func (s *BadgerStore) RetireBranch(branch int) error {
	if err := s.entries.Move(branchKey(branch), retiredPrefix+branchKey(branch)); err != nil {
		return fmt.Errorf("retiring branch %d: %w", branch, err)
	}
	if err := retireDir(s.layout.Branch(branch)); err != nil {
		return fmt.Errorf("retiring branch %d: %w", branch, err)
	}
	s.logger.Debug("Retired branch entries", zap.Int("branch", branch))
	return nil
}

func (s *BadgerStore) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	return os.RemoveAll(s.layout.Meta())
}

func (s *BadgerStore) Close() error {
	if !s.ownsDB || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
