package main

import (
	"context"

	"gitee.com/flycash/notification-dispatch/cmd/platform/ioc"
	"github.com/gotomicro/ego"
	"github.com/gotomicro/ego/core/elog"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	// ego.New 之后才能读取配置
	e := ego.New(ego.WithBeforeStopClean(func() error {
		cancel()
		return nil
	}))
	app := ioc.InitApp()
	if err := e.Invoker(func() error {
		return app.StartTasks(ctx)
	}).Cron(app.Crons...).Run(); err != nil {
		elog.Panic("startup", elog.FieldErr(err))
	}
}
