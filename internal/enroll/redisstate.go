package enroll

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore implements StateStore over go-redis, grounded on
// internal/core/auth/oidc_flow.go's use of redis.Set/GetDel for OAuth
// state. Production deployments should supply this; tests can supply an
// in-memory fake.
type RedisStateStore struct {
	rdb *redis.Client
}

// NewRedisStateStore creates a RedisStateStore.
func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func stateKey(state string) string { return "enroll:state:" + state }
func codeKey(code string) string   { return "enroll:code:" + code }

func (s *RedisStateStore) PutState(ctx context.Context, state, realmSlug string, ttl time.Duration) error {
	return s.rdb.Set(ctx, stateKey(state), realmSlug, ttl).Err()
}

func (s *RedisStateStore) TakeState(ctx context.Context, state string) (string, error) {
	v, err := s.rdb.GetDel(ctx, stateKey(state)).Result()
	if err != nil {
		return "", fmt.Errorf("enroll: taking oauth state: %w", err)
	}
	return v, nil
}

func (s *RedisStateStore) PutCode(ctx context.Context, code string, rec CodeRecord, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("enroll: encoding enrollment code record: %w", err)
	}
	return s.rdb.Set(ctx, codeKey(code), b, ttl).Err()
}

func (s *RedisStateStore) TakeCode(ctx context.Context, code string) (CodeRecord, error) {
	v, err := s.rdb.GetDel(ctx, codeKey(code)).Result()
	if err != nil {
		return CodeRecord{}, fmt.Errorf("enroll: taking enrollment code: %w", err)
	}
	var rec CodeRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return CodeRecord{}, fmt.Errorf("enroll: decoding enrollment code record: %w", err)
	}
	return rec, nil
}
