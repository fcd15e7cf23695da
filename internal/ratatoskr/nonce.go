package ratatoskr

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceCache rejects a replayed (device_id, nonce) pair within the skew
// window. Grounded on the teacher's internal/auth/ratelimit.go INCR+EXPIRE
// pipeline, repurposed here as a replay cache: a nonce is "seen" the first
// time SETNX succeeds, and must not be seen again before it expires.
type NonceCache struct {
	redis  *redis.Client
	window time.Duration
}

// NewNonceCache creates a NonceCache whose entries expire after window,
// which should be at least as long as the validator's timestamp skew
// tolerance so a nonce cannot be replayed within the acceptance window.
func NewNonceCache(rdb *redis.Client, window time.Duration) *NonceCache {
	return &NonceCache{redis: rdb, window: window}
}

func nonceKey(deviceID string, nonce []byte) string {
	return fmt.Sprintf("ratatoskr:nonce:%s:%s", deviceID, hex.EncodeToString(nonce))
}

// CheckAndStore returns true if (deviceID, nonce) has not been seen within
// the cache window, atomically marking it seen. A false result means the
// message is a replay and must be rejected with ValidationError{Kind: Nonce}.
func (c *NonceCache) CheckAndStore(ctx context.Context, deviceID string, nonce []byte) (bool, error) {
	ok, err := c.redis.SetNX(ctx, nonceKey(deviceID, nonce), 1, c.window).Result()
	if err != nil {
		return false, fmt.Errorf("checking nonce cache: %w", err)
	}
	return ok, nil
}
