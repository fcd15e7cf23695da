package heimdall

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LeakAlert is emitted when a token is observed from more distinct devices
// than max_devices_per_token within the detector's window, per spec.md §4.4.
type LeakAlert struct {
	TokenID string
	Devices []string
	Count   int
}

// LeakDetector records (token_id, device_id, timestamp) observations and
// flags tokens used from an anomalous number of distinct devices within a
// window. Grounded on
// original_source/heimdall/src/token/leak_detector.rs, implemented here
// with a Redis sorted set per token id, each member device id scored
// by last-seen time so stale entries can be trimmed from the window.
type LeakDetector struct {
	redis             *redis.Client
	window            time.Duration
	maxDevicesPerToken int
}

// NewLeakDetector creates a LeakDetector.
func NewLeakDetector(rdb *redis.Client, window time.Duration, maxDevicesPerToken int) *LeakDetector {
	return &LeakDetector{redis: rdb, window: window, maxDevicesPerToken: maxDevicesPerToken}
}

func leakKey(tokenID string) string {
	return fmt.Sprintf("heimdall:leak:%s", tokenID)
}

// Record stores a validation observation and returns a LeakAlert if the
// number of distinct devices for tokenID within the window now exceeds the
// configured maximum.
func (d *LeakDetector) Record(ctx context.Context, tokenID, deviceID string, at time.Time) (*LeakAlert, error) {
	key := leakKey(tokenID)
	score := float64(at.Unix())

	pipe := d.redis.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: deviceID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", at.Add(-d.window).Unix()))
	pipe.Expire(ctx, key, d.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("heimdall: recording leak-detector observation: %w", err)
	}

	devices, err := d.redis.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("heimdall: reading leak-detector window: %w", err)
	}

	if len(devices) > d.maxDevicesPerToken {
		return &LeakAlert{TokenID: tokenID, Devices: devices, Count: len(devices)}, nil
	}
	return nil, nil
}
