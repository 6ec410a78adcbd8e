package httpapi

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a simple Redis token bucket: INCR + EXPIRE per 1 s window
// plus burst headroom, keyed by beacon ID.
type RateLimiter struct {
	rdb   *redis.Client
	rps   int
	burst int
}

func NewRateLimiter(rdb *redis.Client, rps, burst int) *RateLimiter {
	return &RateLimiter{rdb: rdb, rps: rps, burst: burst}
}

func (rl *RateLimiter) Allow(ctx context.Context, beaconID string) bool {
	now := time.Now().Unix()
	key := "rl:" + beaconID + ":" + strconv.FormatInt(now, 10)
	cnt, err := rl.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true // fail open
	}
	_ = rl.rdb.Expire(ctx, key, 2*time.Second).Err()
	return int(cnt) <= rl.rps+rl.burst
}
