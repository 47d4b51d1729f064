package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

// Record is the session payload written by the login flow. Expiry is
// enforced both by the redis TTL and by the ExpiresAt field so a stale
// record can never authenticate a connection.
type Record struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store resolves a session identifier to its stored record.
type Store interface {
	Lookup(ctx context.Context, sessionID string) (Record, error)
}

type RedisStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

func NewRedisStore(rdb redis.UniversalClient, keyPrefix string) *RedisStore {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "sess:"
	}
	return &RedisStore{rdb: rdb, keyPrefix: keyPrefix}
}

func (s *RedisStore) Lookup(ctx context.Context, sessionID string) (Record, error) {
	data, err := s.rdb.Get(ctx, s.keyPrefix+sessionID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Record{}, ErrSessionNotFound
		}
		return Record{}, fmt.Errorf("session lookup: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decode session record: %w", err)
	}
	return record, nil
}

// Put writes a session record with the given TTL. The login flow that
// creates sessions lives outside this service; Put exists for tooling and
// tests.
func (s *RedisStore) Put(ctx context.Context, sessionID string, record Record, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	if err := s.rdb.Set(ctx, s.keyPrefix+sessionID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("write session record: %w", err)
	}
	return nil
}
