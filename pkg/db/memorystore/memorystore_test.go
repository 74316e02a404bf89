package memorystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	store := NewMemoryStore()

	missing, err := store.Get([]byte("absent"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Put([]byte("k"), []byte("v1")))
	require.NoError(t, store.Put([]byte("k"), []byte("v2")))

	value, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)

	require.NoError(t, store.Delete([]byte("k")))
	require.NoError(t, store.Delete([]byte("k"))) // idempotent
	value, err = store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestValuesAreCopied(t *testing.T) {
	store := NewMemoryStore()
	original := []byte("value")
	require.NoError(t, store.Put([]byte("k"), original))
	original[0] = 'X'

	loaded, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), loaded)

	loaded[0] = 'Y'
	again, err := store.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestIteratePrefixOrdered(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put([]byte("a!2"), []byte("two")))
	require.NoError(t, store.Put([]byte("a!1"), []byte("one")))
	require.NoError(t, store.Put([]byte("b!1"), []byte("other")))

	var keys []string
	require.NoError(t, store.IteratePrefix([]byte("a!"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"a!1", "a!2"}, keys)

	// Early stop.
	keys = nil
	require.NoError(t, store.IteratePrefix([]byte("a!"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return false
	}))
	assert.Equal(t, []string{"a!1"}, keys)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close()) // idempotent

	require.Error(t, store.Put([]byte("k"), []byte("v")))
	_, err := store.Get([]byte("k"))
	require.Error(t, err)
	require.Error(t, store.HealthCheck())
}
