package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ecodeclub/ekit/syncx"
	"github.com/redis/go-redis/v9"
)

// InFlightGate 保证同一条通知同一时间只会被分发一次
type InFlightGate interface {
	// TryAcquire 拿到了返回 true，已经有人在分发返回 false
	TryAcquire(ctx context.Context, id uint64) (bool, error)
	Release(ctx context.Context, id uint64) error
}

// LocalGate 进程内的实现
type LocalGate struct {
	inflight syncx.Map[uint64, struct{}]
}

func NewLocalGate() *LocalGate {
	return &LocalGate{}
}

func (g *LocalGate) TryAcquire(_ context.Context, id uint64) (bool, error) {
	_, loaded := g.inflight.LoadOrStore(id, struct{}{})
	return !loaded, nil
}

func (g *LocalGate) Release(_ context.Context, id uint64) error {
	g.inflight.Delete(id)
	return nil
}

const defaultGateKeyPrefix = "notification:dispatch:inflight:"

// RedisGate 多个实例共享同一批计划通知的时候使用。
// ttl 兜底实例崩溃之后没有释放的情况，要大于一次分发的最长耗时
type RedisGate struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisGate(rdb redis.Cmdable, ttl time.Duration) *RedisGate {
	return &RedisGate{
		rdb:    rdb,
		ttl:    ttl,
		prefix: defaultGateKeyPrefix,
	}
}

func (g *RedisGate) key(id uint64) string {
	return g.prefix + strconv.FormatUint(id, 10)
}

func (g *RedisGate) TryAcquire(ctx context.Context, id uint64) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.key(id), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取分发标记失败: %w", err)
	}
	return ok, nil
}

func (g *RedisGate) Release(ctx context.Context, id uint64) error {
	if err := g.rdb.Del(ctx, g.key(id)).Err(); err != nil {
		return fmt.Errorf("释放分发标记失败: %w", err)
	}
	return nil
}
