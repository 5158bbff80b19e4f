package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// sessionKeyPrefix namespaces session keys.
const sessionKeyPrefix = "tone:session:"

// RedisStore keeps only the active snapshot per session, with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. A non-positive ttl means 24h.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Get implements Store. TTL is refreshed on every read.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	key := s.key(sessionID)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("redis expire: %w", err)
	}
	return &snap, nil
}

// Commit implements Store using WATCH/MULTI/EXEC. A concurrent writer that
// lands between WATCH and EXEC surfaces as ErrVersionConflict.
func (s *RedisStore) Commit(ctx context.Context, snap *Snapshot) error {
	key := s.key(snap.SessionID)
	next := *snap

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var stored *Snapshot
		val, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return fmt.Errorf("redis get: %w", err)
		default:
			stored = &Snapshot{}
			if err := json.Unmarshal([]byte(val), stored); err != nil {
				return fmt.Errorf("unmarshal snapshot: %w", err)
			}
		}

		parentID, err := checkVersion(stored, stored != nil, snap.Version)
		if err != nil {
			return err
		}
		next = *snap
		advance(&next, parentID)

		newVal, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}
	*snap = next
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return sessionKeyPrefix + id
}
