package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "state/current")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Has(ctx, "state/current")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "state/current", []byte("BULL")))
	require.NoError(t, s.Set(ctx, "state/current", []byte("BEAR")))

	v, err := s.Get(ctx, "state/current")
	require.NoError(t, err)
	assert.Equal(t, []byte("BEAR"), v)

	// returned slices must not alias the stored value
	v[0] = 'X'
	v2, err := s.Get(ctx, "state/current")
	require.NoError(t, err)
	assert.Equal(t, []byte("BEAR"), v2)

	ok, err = s.Has(ctx, "state/current")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "state/current"))
	require.NoError(t, s.Delete(ctx, "state/current"))

	_, err = s.Get(ctx, "state/current")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	require.NoError(t, s.Close())
}

func TestWALStore(t *testing.T) {
	s, err := NewWALStore(t.TempDir(), nil)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())
}

func TestWALStore_ReplaysAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewWALStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "strategy/active", []byte("mean_reversion")))
	require.NoError(t, s.Set(ctx, "state/current", []byte("BULL")))
	require.NoError(t, s.Set(ctx, "lock/state", []byte("owner")))
	require.NoError(t, s.Delete(ctx, "lock/state"))
	require.NoError(t, s.Close())

	reopened, err := NewWALStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.Get(ctx, "strategy/active")
	require.NoError(t, err)
	assert.Equal(t, "mean_reversion", string(v))

	v, err = reopened.Get(ctx, "state/current")
	require.NoError(t, err)
	assert.Equal(t, "BULL", string(v))

	ok, err := reopened.Has(ctx, "lock/state")
	require.NoError(t, err)
	assert.False(t, ok)
}
