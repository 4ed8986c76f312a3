package ioc

import (
	"context"

	"gitee.com/flycash/notification-dispatch/internal/service/notification"
	"github.com/gotomicro/ego/task/ecron"
)

type App struct {
	Service *notification.Service
	Tasks   []Task
	Crons   []ecron.Ecron
}

// StartTasks 先从数据库恢复计划通知，再启动后台任务
func (a *App) StartTasks(ctx context.Context) error {
	if _, err := a.Service.RecoverScheduled(ctx); err != nil {
		return err
	}
	for _, t := range a.Tasks {
		go t.Start(ctx)
	}
	return nil
}
