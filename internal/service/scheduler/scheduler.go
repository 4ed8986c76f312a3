package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/pkg/clock"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hashicorp/go-multierror"
)

const defaultInterval = time.Second

// Dispatcher 真正执行发送的一方，一般是 sender.NotificationSender
type Dispatcher interface {
	Dispatch(ctx context.Context, n domain.Notification) (domain.Notification, error)
}

// ProcessResult 一次扫描的结果
type ProcessResult struct {
	Dispatched int
	Failed     int
	Expired    int
	// Skipped 正在被别人分发的
	Skipped int
}

// Scheduler 延迟发送。计划通知保存在内存里，到期之后交给 Dispatcher
type Scheduler struct {
	mu    sync.Mutex
	store map[uint64]domain.Notification

	gate       InFlightGate
	dispatcher Dispatcher
	clock      clock.Clock
	interval   time.Duration

	logger *elog.Component
}

type Option func(s *Scheduler)

func WithGate(gate InFlightGate) Option {
	return func(s *Scheduler) {
		s.gate = gate
	}
}

// WithInterval Start 的扫描间隔
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func NewScheduler(dispatcher Dispatcher, clk clock.Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      make(map[uint64]domain.Notification),
		gate:       NewLocalGate(),
		dispatcher: dispatcher,
		clock:      clk,
		interval:   defaultInterval,
		logger:     elog.DefaultLogger.With(elog.String("component", "scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule 计划在 at 发送，at 必须晚于当前时间
func (s *Scheduler) Schedule(n domain.Notification, at time.Time) (domain.Notification, error) {
	now := s.clock.Now()
	if !at.After(now) {
		return domain.Notification{}, fmt.Errorf("%w: 计划时间 %s 早于当前时间 %s",
			errs.ErrInvalidSchedule, at.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	scheduled, err := n.WithSchedule(at, now)
	if err != nil {
		return domain.Notification{}, err
	}
	s.mu.Lock()
	s.store[scheduled.ID] = scheduled
	s.mu.Unlock()
	return scheduled, nil
}

// Restore 恢复已经持久化的计划通知，不检查计划时间，过期未发的会在下一次扫描时发送
func (s *Scheduler) Restore(n domain.Notification) error {
	if n.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: 通知 %d 没有计划时间", errs.ErrInvalidSchedule, n.ID)
	}
	if n.Status != domain.NotificationStatusPending {
		return fmt.Errorf("%w: 通知 %d 状态为 %s", errs.ErrInvalidSchedule, n.ID, n.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.store[n.ID]; !ok {
		s.store[n.ID] = n
	}
	return nil
}

// Cancel 不再调度，重复取消没有影响。已经开始的分发不受影响
func (s *Scheduler) Cancel(ctx context.Context, id uint64) error {
	s.mu.Lock()
	delete(s.store, id)
	s.mu.Unlock()
	return s.gate.Release(ctx, id)
}

// Retain 只保留 ids 里的通知，返回删除的数量。
// 多实例部署时以数据库为准，清理已经被其他实例处理过的通知
func (s *Scheduler) Retain(ids map[uint64]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cnt := 0
	for id := range s.store {
		if _, ok := ids[id]; !ok {
			delete(s.store, id)
			cnt++
		}
	}
	return cnt
}

func (s *Scheduler) Has(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.store[id]
	return ok
}

// GetScheduledNotifications 已经到期的通知，按计划时间排序
func (s *Scheduler) GetScheduledNotifications() []domain.Notification {
	return s.due(s.clock.Now())
}

func (s *Scheduler) due(now time.Time) []domain.Notification {
	s.mu.Lock()
	res := make([]domain.Notification, 0, len(s.store))
	for _, n := range s.store {
		if n.IsDue(now) {
			res = append(res, n)
		}
	}
	s.mu.Unlock()
	slices.SortFunc(res, func(a, b domain.Notification) int {
		if c := a.ScheduledFor.Compare(b.ScheduledFor); c != 0 {
			return c
		}
		return compareID(a.ID, b.ID)
	})
	return res
}

func compareID(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ProcessScheduledNotifications 分发所有到期的通知。
// 单条通知的错误不会中断扫描，所有错误合并之后返回
func (s *Scheduler) ProcessScheduledNotifications(ctx context.Context) (ProcessResult, error) {
	now := s.clock.Now()
	var (
		res    ProcessResult
		result *multierror.Error
	)
	for _, n := range s.due(now) {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		if n.IsExpired(now) {
			s.evict(n.ID, n.ScheduledFor)
			res.Expired++
			s.logger.Info("计划通知已过期，不再发送", elog.Any("id", n.ID))
			continue
		}
		if n.Status != domain.NotificationStatusPending {
			s.evict(n.ID, n.ScheduledFor)
			continue
		}
		ok, err := s.gate.TryAcquire(ctx, n.ID)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}
		// 拿到标记之后再确认一次，别的扫描可能刚刚处理完
		if !s.stillDue(n) {
			s.release(ctx, n.ID)
			res.Skipped++
			continue
		}
		err = s.dispatch(ctx, n, now)
		s.release(ctx, n.ID)
		if err != nil {
			res.Failed++
			result = multierror.Append(result, err)
			continue
		}
		res.Dispatched++
	}
	return res, result.ErrorOrNil()
}

func (s *Scheduler) stillDue(n domain.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.store[n.ID]
	return ok && cur.ScheduledFor.Equal(n.ScheduledFor)
}

func (s *Scheduler) dispatch(ctx context.Context, n domain.Notification, now time.Time) error {
	if !n.IsRecurring() {
		s.evict(n.ID, n.ScheduledFor)
		if _, err := s.dispatcher.Dispatch(ctx, n); err != nil {
			return fmt.Errorf("分发计划通知 %d 失败: %w", n.ID, err)
		}
		return nil
	}

	// 周期通知：原通知留在调度里，每次发送一个新的通知
	id := domain.OccurrenceID(n.ID, n.ScheduledFor)
	s.rearm(n, now)
	occurrence := n.Occurrence(id, now)
	if _, err := s.dispatcher.Dispatch(ctx, occurrence); err != nil {
		return fmt.Errorf("分发周期通知 %d 的第 %d 次发送失败: %w", n.ID, id, err)
	}
	return nil
}

// rearm 下一次计划时间一定在 now 之后，错过的周期不补发
func (s *Scheduler) rearm(n domain.Notification, now time.Time) {
	interval := n.RecurringInterval()
	next := n.ScheduledFor.Add(interval)
	for !next.After(now) {
		next = next.Add(interval)
	}
	rearmed, err := n.WithSchedule(next, now)
	if err != nil {
		s.logger.Error("周期通知重新调度失败", elog.Any("id", n.ID), elog.FieldErr(err))
		s.evict(n.ID, n.ScheduledFor)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// 期间被取消了
	if _, ok := s.store[n.ID]; ok {
		s.store[n.ID] = rearmed
	}
}

// evict 只删除计划时间没有变过的，避免删掉重新调度过的通知
func (s *Scheduler) evict(id uint64, scheduledFor time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.store[id]; ok && cur.ScheduledFor.Equal(scheduledFor) {
		delete(s.store, id)
	}
}

func (s *Scheduler) release(ctx context.Context, id uint64) {
	// 释放不应该受到调用方取消的影响
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.gate.Release(ctx, id); err != nil {
		s.logger.Error("释放分发标记失败", elog.Any("id", id), elog.FieldErr(err))
	}
}

// PurgeExpired 清理已经过期的计划通知，返回清理的数量
func (s *Scheduler) PurgeExpired() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	cnt := 0
	for id, n := range s.store {
		if n.IsExpired(now) {
			delete(s.store, id)
			cnt++
		}
	}
	if cnt > 0 {
		s.logger.Info("清理过期的计划通知", elog.Int("count", cnt))
	}
	return cnt
}

// Start 启动调度循环，ctx 被取消之后退出
func (s *Scheduler) Start(ctx context.Context) {
	go s.Run(ctx)
}

// Run 单线程的调度循环，直到 ctx 被取消
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("调度循环退出")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick 执行一轮扫描
func (s *Scheduler) Tick(ctx context.Context) {
	res, err := s.ProcessScheduledNotifications(ctx)
	if err != nil {
		s.logger.Error("处理计划通知出现错误", elog.FieldErr(err))
	}
	if res != (ProcessResult{}) {
		s.logger.Info("处理计划通知",
			elog.Int("dispatched", res.Dispatched),
			elog.Int("failed", res.Failed),
			elog.Int("expired", res.Expired),
			elog.Int("skipped", res.Skipped))
	}
	s.PurgeExpired()
}
