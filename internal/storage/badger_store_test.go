package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*badger.DB, func()) {
	dir, err := os.MkdirTemp("", "badger-test")
	require.NoError(t, err)

	opts := badger.DefaultOptions(dir).WithInMemory(true)
	opts.Logger = nil // Disable logging for tests
	opts.Dir = ""
	opts.ValueDir = ""

	db, err := badger.Open(opts)
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		os.RemoveAll(dir)
	}

	return db, cleanup
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestBadgerStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBadgerStore(db, "test")

	t.Run("Put and Get", func(t *testing.T) {
		require.NoError(t, store.Put("a", record{Name: "a", Count: 1}))

		var got record
		require.NoError(t, store.Get("a", &got))
		assert.Equal(t, record{Name: "a", Count: 1}, got)
	})

	t.Run("Put keeps backup", func(t *testing.T) {
		require.NoError(t, store.Put("b", record{Name: "b", Count: 1}))
		require.NoError(t, store.Put("b", record{Name: "b", Count: 2}))

		var current, backup record
		require.NoError(t, store.Get("b", &current))
		require.NoError(t, store.Get("b"+BackupSuffix, &backup))
		assert.Equal(t, 2, current.Count)
		assert.Equal(t, 1, backup.Count)
	})

	t.Run("Get missing", func(t *testing.T) {
		var got record
		err := store.Get("missing", &got)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Empty ID", func(t *testing.T) {
		assert.Error(t, store.Put("", record{}))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Put("gone", record{Name: "gone"}))
		require.NoError(t, store.Delete("gone"))
		assert.ErrorIs(t, store.Delete("gone"), ErrNotFound)
	})
}

func TestBadgerStoreKeysMove(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBadgerStore(db, "test")
	require.NoError(t, store.Put("b1:commits", record{Count: 1}))
	require.NoError(t, store.Put("b1:r0", record{Count: 2}))
	require.NoError(t, store.Put("b10:r0", record{Count: 3}))

	keys, err := store.Keys("b1:")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1:commits", "b1:r0"}, keys)

	require.NoError(t, store.Move("b1:", "old:b1:"))
	keys, err = store.Keys("b1:")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = store.Keys("old:b1:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	var other record
	require.NoError(t, store.Get("b10:r0", &other))
	assert.Equal(t, 3, other.Count)
}

func TestBadgerStoreMoveLargeBranch(t *testing.T) {
	// A small memtable caps a single transaction at a few hundred KB.
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithMemTableSize(1 << 20).
		WithValueThreshold(1 << 10).
		WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	defer db.Close()

	store := NewBadgerStore(db, "test")
	data, err := json.Marshal(record{Name: strings.Repeat("x", 200)})
	require.NoError(t, err)

	const count = 5000
	wb := db.NewWriteBatch()
	for i := 0; i < count; i++ {
		require.NoError(t, wb.Set(store.makeKey(fmt.Sprintf("b2:r%d", i)), data))
	}
	require.NoError(t, wb.Flush())

	require.NoError(t, store.Move("b2:", "old:b2:"))

	keys, err := store.Keys("b2:")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = store.Keys("old:b2:")
	require.NoError(t, err)
	assert.Len(t, keys, count)

	var moved record
	require.NoError(t, store.Get("old:b2:r4999", &moved))
	assert.Len(t, moved.Name, 200)
}
