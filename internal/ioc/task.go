package ioc

import (
	"context"

	"gitee.com/flycash/notification-dispatch/internal/event/receipt"
	"gitee.com/flycash/notification-dispatch/internal/service/notification"
	"gitee.com/flycash/notification-dispatch/internal/service/scheduler"
	"gitee.com/flycash/notification-dispatch/internal/service/sender"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/meoying/dlock-go"
)

// Task 后台任务，ctx 被取消之后退出
type Task interface {
	Start(ctx context.Context)
}

func InitTasks(s *scheduler.Scheduler,
	svc *notification.Service,
	dclient dlock.Client,
	consumer *kafka.Consumer,
	notificationSender sender.NotificationSender,
) []Task {
	cfg := loadSchedulerConfig()
	tasks := make([]Task, 0, 2)
	if cfg.Distributed {
		tasks = append(tasks, notification.NewSchedulingTask(dclient, svc, s, cfg.Interval,
			notification.WithRecoverInterval(cfg.RecoverInterval)))
	} else {
		tasks = append(tasks, s)
	}
	if consumer != nil {
		c, err := receipt.NewConsumer(consumer, notificationSender)
		if err != nil {
			panic(err)
		}
		tasks = append(tasks, c)
	}
	return tasks
}
