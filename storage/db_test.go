package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()

	ldb, err := NewLevelDB(filepath.Join(dir, "leveldb"))
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })

	bdb, err := NewBoltDB(filepath.Join(dir, "market.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })

	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": ldb,
		"bolt":    bdb,
	}
}

func TestDatabaseRoundTrip(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			key := []byte("lock/record")
			value := []byte{0x01, 0x02, 0x03}

			_, err := db.Get(key)
			require.ErrorIs(t, err, ErrKeyNotFound)

			found, err := db.Has(key)
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, db.Put(key, value))

			stored, err := db.Get(key)
			require.NoError(t, err)
			require.Equal(t, value, stored)

			found, err = db.Has(key)
			require.NoError(t, err)
			require.True(t, found)

			require.NoError(t, db.Delete(key))
			_, err = db.Get(key)
			require.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestDatabaseValueIsolation(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			key := []byte("vault/holding")
			value := []byte{0xAA, 0xBB}
			require.NoError(t, db.Put(key, value))

			stored, err := db.Get(key)
			require.NoError(t, err)
			stored[0] = 0x00

			again, err := db.Get(key)
			require.NoError(t, err)
			require.Equal(t, []byte{0xAA, 0xBB}, again)
		})
	}
}
