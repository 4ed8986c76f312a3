package loopjob

import (
	"context"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/meoying/dlock-go"
	"github.com/pkg/errors"
)

// 多个实例里同一时间只有一个实例在执行 biz

const (
	defaultTimeout  = time.Second * 3
	defaultInterval = time.Minute
)

type InfiniteLoop struct {
	dclient dlock.Client
	key     string
	// interval 锁的过期时间，也是抢锁失败之后的等待时间
	interval time.Duration
	logger   *elog.Component
	biz      func(ctx context.Context) error
}

type Option func(l *InfiniteLoop)

func WithInterval(interval time.Duration) Option {
	return func(l *InfiniteLoop) {
		if interval > 0 {
			l.interval = interval
		}
	}
}

func NewInfiniteLoop(
	dclient dlock.Client,
	// biz 每一轮执行一次，ctx 被取消的时候退出全部循环
	biz func(ctx context.Context) error,
	key string,
	opts ...Option,
) *InfiniteLoop {
	l := &InfiniteLoop{
		dclient:  dclient,
		key:      key,
		interval: defaultInterval,
		logger:   elog.DefaultLogger.With(elog.String("key", key)),
		biz:      biz,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run 当 ctx 被取消的时候，就会退出
func (l *InfiniteLoop) Run(ctx context.Context) {
	for {
		lock, err := l.dclient.NewLock(ctx, l.key, l.interval)
		if err != nil {
			l.logger.Error("初始化分布式锁失败，重试", elog.FieldErr(err))
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		lockCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		// 锁被别人持有也会走到这里，等一会再抢
		err = lock.Lock(lockCtx)
		cancel()
		if err != nil {
			l.logger.Debug("没有抢到分布式锁", elog.FieldErr(err))
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		err = l.bizLoop(ctx, lock)
		if err != nil {
			l.logger.Error("持有分布式锁期间执行失败", elog.FieldErr(err))
		}
		// 此时 ctx 可能已经被取消了，仍然要尝试释放锁
		unCtx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		//nolint:contextcheck // 原始 ctx 可能已被取消
		unErr := lock.Unlock(unCtx)
		cancel()
		if unErr != nil {
			l.logger.Error("释放分布式锁失败", elog.FieldErr(unErr))
		}
		err = ctx.Err()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			l.logger.Info("任务被取消，退出任务循环")
			return
		}
		if !l.sleep(ctx) {
			return
		}
	}
}

// sleep ctx 被取消返回 false
func (l *InfiniteLoop) sleep(ctx context.Context) bool {
	timer := time.NewTimer(l.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *InfiniteLoop) bizLoop(ctx context.Context, lock dlock.Lock) error {
	for {
		err := l.biz(ctx)
		if err != nil {
			l.logger.Error("业务执行失败", elog.FieldErr(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		refCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		err = lock.Refresh(refCtx)
		cancel()
		if err != nil {
			return errors.Wrap(err, "分布式锁续约失败")
		}
	}
}
