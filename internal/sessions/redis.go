package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"ventureline/internal/wizard"
)

const (
	sessionKeyPrefix = "vl:wizard:session:" // vl:wizard:session:{id} -> session JSON
	ownerSetPrefix   = "vl:wizard:owner:"   // vl:wizard:owner:{owner_id} -> set of session ids
)

// RedisStore keeps sessions as JSON strings with a TTL refreshed on every write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) sessionKey(id string) string { return sessionKeyPrefix + id }
func (r *RedisStore) ownerKey(id string) string   { return ownerSetPrefix + id }

func (r *RedisStore) Create(ctx context.Context, s *wizard.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.sessionKey(s.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, r.ownerKey(s.OwnerID), s.ID)
	pipe.Expire(ctx, r.ownerKey(s.OwnerID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*wizard.Session, error) {
	return r.get(ctx, r.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) get(ctx context.Context, c getter, id string) (*wizard.Session, error) {
	data, err := c.Get(ctx, r.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s wizard.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Update(ctx context.Context, id string, fn func(*wizard.Session) error) (*wizard.Session, error) {
	key := r.sessionKey(id)
	var out *wizard.Session
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		s, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			pipe.Expire(ctx, r.ownerKey(s.OwnerID), r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = s
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id))
	pipe.SRem(ctx, r.ownerKey(s.OwnerID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's live sessions, newest first. Expired ids still in
// the owner set are pruned.
func (r *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]*wizard.Session, error) {
	ids, err := r.client.SMembers(ctx, r.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var out []*wizard.Session
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.client.SRem(ctx, r.ownerKey(ownerID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(list []*wizard.Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt == list[j].CreatedAt {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt > list[j].CreatedAt
	})
}
