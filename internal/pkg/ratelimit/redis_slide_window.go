package ratelimit

import (
	"context"
	_ "embed"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	//go:embed lua/slide_window.lua
	slidingWindowScript string

	_ Limiter = (*RedisSlidingWindowLimiter)(nil)
)

// RedisSlidingWindowLimiter 多个实例共享同一个窗口
type RedisSlidingWindowLimiter struct {
	cmd       redis.Cmdable
	interval  time.Duration
	rate      int
	keyPrefix string
}

// NewRedisSlidingWindowLimiter interval 内最多 rate 个请求
func NewRedisSlidingWindowLimiter(cmd redis.Cmdable, interval time.Duration, rate int) *RedisSlidingWindowLimiter {
	return &RedisSlidingWindowLimiter{
		cmd:       cmd,
		interval:  interval,
		rate:      rate,
		keyPrefix: "notification:dispatch:ratelimit:",
	}
}

func (r *RedisSlidingWindowLimiter) Limit(ctx context.Context, key string) (bool, error) {
	return r.cmd.Eval(ctx, slidingWindowScript,
		[]string{r.keyPrefix + key},
		r.interval.Milliseconds(),
		r.rate,
		time.Now().UnixMilli(),
		uuid.NewString(),
	).Bool()
}
