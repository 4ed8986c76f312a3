package ioc

import (
	"context"

	"github.com/gotomicro/ego/task/ecron"
)

// Crons 定期探测不健康的供应商，间隔见 cron.health 配置
func Crons(p Providers) []ecron.Ecron {
	health := ecron.Load("cron.health").Build(ecron.WithJob(func(ctx context.Context) error {
		p.Monitor.Check(ctx)
		return nil
	}))
	return []ecron.Ecron{health}
}
