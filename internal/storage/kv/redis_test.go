package kv

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get hit", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		s := NewRedisStore(db, "")

		mock.ExpectGet("statefuse:state/current").SetVal("SIDEWAYS")

		v, err := s.Get(ctx, "state/current")
		require.NoError(t, err)
		assert.Equal(t, "SIDEWAYS", string(v))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get miss maps to ErrNotFound", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		s := NewRedisStore(db, "")

		mock.ExpectGet("statefuse:state/current").RedisNil()

		_, err := s.Get(ctx, "state/current")
		require.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get error is wrapped", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		s := NewRedisStore(db, "")

		mock.ExpectGet("statefuse:state/current").SetErr(redis.TxFailedErr)

		_, err := s.Get(ctx, "state/current")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, redis.TxFailedErr)
	})

	t.Run("set", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		s := NewRedisStore(db, "test:")

		value := []byte(`{"v":1}`)
		mock.ExpectSet("test:risk/params", value, 0).SetVal("OK")

		require.NoError(t, s.Set(ctx, "risk/params", value))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("has and delete", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		s := NewRedisStore(db, "")

		mock.ExpectExists("statefuse:lock/state").SetVal(1)
		mock.ExpectDel("statefuse:lock/state").SetVal(1)
		mock.ExpectExists("statefuse:lock/state").SetVal(0)

		ok, err := s.Has(ctx, "lock/state")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.Delete(ctx, "lock/state"))

		ok, err = s.Has(ctx, "lock/state")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
