//go:build e2e

package integration

import (
	"context"
	"testing"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/service/scheduler"
	"gitee.com/flycash/notification-dispatch/internal/test/ioc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisGate(t *testing.T) {
	t.Parallel()
	rdb := ioc.InitRedis()
	// 模拟两个实例
	g1 := scheduler.NewRedisGate(rdb, time.Minute)
	g2 := scheduler.NewRedisGate(rdb, time.Minute)
	const id = uint64(987654321)
	t.Cleanup(func() {
		_ = g1.Release(context.Background(), id)
	})

	ok, err := g1.TryAcquire(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g2.TryAcquire(t.Context(), id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, g1.Release(t.Context(), id))
	ok, err = g2.TryAcquire(t.Context(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := rdb.TTL(t.Context(), "notification:dispatch:inflight:987654321").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
