package notification

import (
	"context"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/pkg/loopjob"
	"github.com/gotomicro/ego/core/elog"
	"github.com/meoying/dlock-go"
)

const (
	schedulingTaskKey      = "notification_dispatch_scheduling"
	defaultRecoverInterval = time.Minute
)

// Ticker 执行一轮计划通知的扫描，scheduler.Scheduler 满足这个接口
type Ticker interface {
	Tick(ctx context.Context)
}

// SchedulingTask 多实例部署时只有拿到分布式锁的实例扫描计划通知。
// 其他实例创建的计划通知只落库，由持锁实例定期从数据库恢复
type SchedulingTask struct {
	dclient  dlock.Client
	svc      *Service
	ticker   Ticker
	interval time.Duration
	// recoverInterval 多久从数据库恢复一次
	recoverInterval time.Duration
	lastRecover     time.Time
	logger          *elog.Component
}

type SchedulingTaskOption func(t *SchedulingTask)

// WithRecoverInterval 其他实例创建的计划通知最多延迟这么久被发现
func WithRecoverInterval(interval time.Duration) SchedulingTaskOption {
	return func(t *SchedulingTask) {
		if interval > 0 {
			t.recoverInterval = interval
		}
	}
}

func NewSchedulingTask(dclient dlock.Client, svc *Service, ticker Ticker, interval time.Duration,
	opts ...SchedulingTaskOption,
) *SchedulingTask {
	t := &SchedulingTask{
		dclient:         dclient,
		svc:             svc,
		ticker:          ticker,
		interval:        interval,
		recoverInterval: defaultRecoverInterval,
		logger:          elog.DefaultLogger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *SchedulingTask) Start(ctx context.Context) {
	lj := loopjob.NewInfiniteLoop(t.dclient, t.Schedule, schedulingTaskKey)
	lj.Run(ctx)
}

// Schedule 一轮调度
func (t *SchedulingTask) Schedule(ctx context.Context) error {
	now := t.svc.clock.Now()
	if now.Sub(t.lastRecover) >= t.recoverInterval {
		if _, err := t.svc.RecoverScheduled(ctx); err != nil {
			// 部分失败也继续扫描已经恢复的
			t.logger.Error("恢复计划通知失败", elog.FieldErr(err))
		}
		t.lastRecover = now
	}
	t.ticker.Tick(ctx)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.interval):
		return nil
	}
}
