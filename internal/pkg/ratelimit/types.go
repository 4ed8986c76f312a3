package ratelimit

import "context"

type Limiter interface {
	// Limit 返回 true 表示应该限流，本次请求不计入窗口
	Limit(ctx context.Context, key string) (bool, error)
}
