// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("entity not found")

// BackupSuffix is appended to a key to address the value it held before the
// last Put.
const BackupSuffix = ".bak"

// BadgerStore keeps JSON values under prefixed keys
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

func (s *BadgerStore) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), fmt.Sprintf("%s:", s.prefix))
}

// Put stores v under id. A previous value is copied to id+BackupSuffix in the
// same transaction before being overwritten.
func (s *BadgerStore) Put(id string, v any) error {
	if id == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}

	key := s.makeKey(id)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Set(s.makeKey(id+BackupSuffix), old); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		return txn.Set(key, data)
	})
}

// GetRaw returns the stored bytes for id.
func (s *BadgerStore) GetRaw(id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return data, err
}

func (s *BadgerStore) Get(id string, v any) error {
	data, err := s.GetRaw(id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling entity %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) Delete(id string) error {
	key := s.makeKey(id)

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		} else if err != nil {
			return err
		}

		return txn.Delete(key)
	})
}

// Keys lists the ids starting with sub, in key order.
func (s *BadgerStore) Keys(sub string) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := s.makeKey(sub)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, s.stripPrefix(it.Item().KeyCopy(nil)))
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	return ids, nil
}

// Move renames every id starting with from so that it starts with to instead.
// Entries are copied in write batches sized by badger and only deleted once
// every copy is flushed, so an interrupted move never loses a value.
func (s *BadgerStore) Move(from, to string) error {
	ids, err := s.Keys(from)
	if err != nil {
		return err
	}

	copies := s.db.NewWriteBatch()
	for _, id := range ids {
		data, err := s.GetRaw(id)
		if err != nil {
			copies.Cancel()
			return err
		}
		if err := copies.Set(s.makeKey(to+strings.TrimPrefix(id, from)), data); err != nil {
			copies.Cancel()
			return fmt.Errorf("copying %s: %w", id, err)
		}
	}
	if err := copies.Flush(); err != nil {
		return fmt.Errorf("copying entities: %w", err)
	}

	deletes := s.db.NewWriteBatch()
	for _, id := range ids {
		if err := deletes.Delete(s.makeKey(id)); err != nil {
			deletes.Cancel()
			return fmt.Errorf("deleting %s: %w", id, err)
		}
	}
	if err := deletes.Flush(); err != nil {
		return fmt.Errorf("deleting moved entities: %w", err)
	}
	return nil
}
