package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventureline/internal/wizard"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client, mr
}

func stores(t *testing.T) map[string]Store {
	client, _ := setupTestRedis(t)
	return map[string]Store{
		"redis":  NewRedisStore(client, time.Hour),
		"memory": NewMemoryStore(time.Hour),
	}
}

func session(id, owner, created string) *wizard.Session {
	return wizard.NewSession(id, owner, "", created)
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Get(ctx, "s1")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Create(ctx, session("s1", "u1", "2024-01-01T00:00:00Z")))
			require.Error(t, store.Create(ctx, session("s1", "u1", "2024-01-01T00:00:00Z")))

			updated, err := store.Update(ctx, "s1", func(s *wizard.Session) error {
				s.Stage = wizard.StageEntryChoice
				s.Answers[wizard.StageEntryChoice] = "skills"
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, wizard.StageEntryChoice, updated.Stage)

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "skills", got.Answers[wizard.StageEntryChoice])

			require.NoError(t, store.Delete(ctx, "s1"))
			require.ErrorIs(t, store.Delete(ctx, "s1"), ErrNotFound)
		})
	}
}

func TestUpdateFailureWritesNothing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, session("s1", "u1", "t")))
			boom := errors.New("generation failed")
			_, err := store.Update(ctx, "s1", func(s *wizard.Session) error {
				s.Stage = wizard.StageSummary
				return boom
			})
			require.ErrorIs(t, err, boom)
			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, wizard.StageLanding, got.Stage)

			_, err = store.Update(ctx, "missing", func(*wizard.Session) error { return nil })
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestConcurrentUpdateConflicts(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, session("s1", "u1", "t")))
			calls := 0
			_, err := store.Update(ctx, "s1", func(s *wizard.Session) error {
				calls++
				_, err := store.Update(ctx, "s1", func(inner *wizard.Session) error {
					inner.Stage = wizard.StageEntryChoice
					return nil
				})
				require.NoError(t, err)
				s.Stage = wizard.StageSummary
				return nil
			})
			require.ErrorIs(t, err, ErrConflict)
			assert.Equal(t, 1, calls)

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, wizard.StageEntryChoice, got.Stage)
		})
	}
}

func TestListByOwner(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, session("a", "u1", "2024-01-01T00:00:00Z")))
			require.NoError(t, store.Create(ctx, session("b", "u1", "2024-01-02T00:00:00Z")))
			require.NoError(t, store.Create(ctx, session("c", "u2", "2024-01-03T00:00:00Z")))

			list, err := store.ListByOwner(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "b", list[0].ID)
			assert.Equal(t, "a", list[1].ID)
		})
	}
}

func TestRedisSessionsExpire(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisStore(client, time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, session("s1", "u1", "t")))
	assert.Equal(t, time.Minute, mr.TTL(sessionKeyPrefix+"s1"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
	list, err := store.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemorySessionsExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, session("s1", "u1", "t")))

	now = now.Add(30 * time.Second)
	_, err := store.Update(ctx, "s1", func(*wizard.Session) error { return nil })
	require.NoError(t, err)

	now = now.Add(45 * time.Second)
	_, err = store.Get(ctx, "s1")
	require.NoError(t, err, "update refreshed the ttl")

	now = now.Add(time.Minute)
	_, err = store.Get(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}
