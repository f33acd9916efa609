package backingstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Put(ctx, "a", []byte("1")))
	require.NoError(t, m.Put(ctx, "b", []byte("2")))

	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Delete(ctx, "a"))
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key is a no-op.
	require.NoError(t, m.Delete(ctx, "a"))
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	original := []byte("value")
	require.NoError(t, m.Put(ctx, "k", original))
	original[0] = 'X'

	stored, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), stored, "Put must copy the value")

	stored[0] = 'Y'
	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again, "Get must return a copy")
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "policy/a", nil))
	require.NoError(t, m.Put(ctx, "policy/b", nil))
	require.NoError(t, m.Put(ctx, "query/c", nil))

	keys, err := m.List(ctx, "policy/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"policy/a", "policy/b"}, keys)

	all, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
