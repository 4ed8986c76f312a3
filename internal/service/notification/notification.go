package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/pkg/clock"
	"gitee.com/flycash/notification-dispatch/internal/repository"
	"gitee.com/flycash/notification-dispatch/internal/service/sender"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hashicorp/go-multierror"
)

const (
	cancelReasonUser    = "cancelled"
	cancelReasonExpired = "expired"
	// recoverBatchSize 恢复计划通知时每次从数据库读取的数量
	recoverBatchSize = 1000
)

// IDGenerator sonyflake 满足这个接口
type IDGenerator interface {
	NextID() (uint64, error)
}

// Scheduler 计划通知的调度
type Scheduler interface {
	Schedule(n domain.Notification, at time.Time) (domain.Notification, error)
	Restore(n domain.Notification) error
	Cancel(ctx context.Context, id uint64) error
	Retain(ids map[uint64]struct{}) int
}

// Service 通知服务，对外的入口
type Service struct {
	repo      repository.NotificationRepository
	sender    sender.NotificationSender
	scheduler Scheduler
	// distributed 计划通知只落库，由持有分布式锁的实例从数据库恢复
	distributed bool
	idGen       IDGenerator
	clock       clock.Clock
	logger      *elog.Component

	recoverBatchSize int
}

// NewService 创建之后需要调用 SetScheduler，调度器反过来依赖 Service 分发
func NewService(repo repository.NotificationRepository, s sender.NotificationSender,
	idGen IDGenerator, clk clock.Clock,
) *Service {
	return &Service{
		repo:             repo,
		sender:           s,
		idGen:            idGen,
		clock:            clk,
		logger:           elog.DefaultLogger,
		recoverBatchSize: recoverBatchSize,
	}
}

// SetScheduler distributed 为 true 时本实例的调度器只保存从数据库恢复的通知
func (s *Service) SetScheduler(scheduler Scheduler, distributed bool) {
	s.scheduler = scheduler
	s.distributed = distributed
}

// Create 创建通知。计划时间在未来的交给调度器，其余的立刻发送。
// 多实例部署时计划通知只落库
func (s *Service) Create(ctx context.Context, params domain.NotificationParams) (domain.Notification, error) {
	id, err := s.idGen.NextID()
	if err != nil {
		return domain.Notification{}, fmt.Errorf("生成通知ID失败: %w", err)
	}
	now := s.clock.Now()
	n, err := domain.NewNotification(id, params, now)
	if err != nil {
		return domain.Notification{}, err
	}
	n, err = s.repo.Create(ctx, n)
	if err != nil {
		return domain.Notification{}, err
	}
	if n.IsScheduled(now) {
		if s.distributed {
			return n, nil
		}
		return s.scheduler.Schedule(n, n.ScheduledFor)
	}
	return s.sender.Send(ctx, n)
}

func (s *Service) Get(ctx context.Context, id uint64) (domain.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID string, offset, limit int) ([]domain.Notification, error) {
	if userID == "" || offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: userID=%q offset=%d limit=%d", errs.ErrInvalidParameter, userID, offset, limit)
	}
	return s.repo.ListByUserID(ctx, userID, offset, limit)
}

// Cancel 取消之后不会再被调度，已经开始的发送不受影响
func (s *Service) Cancel(ctx context.Context, id uint64) (domain.Notification, error) {
	if err := s.scheduler.Cancel(ctx, id); err != nil {
		s.logger.Warn("取消调度失败", elog.Any("id", id), elog.FieldErr(err))
	}
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}
	now := s.clock.Now()
	cancelled, err := n.MarkAsCancelled(now)
	if err != nil {
		return n, err
	}
	cancelled = cancelled.WithMetadata(domain.MetadataCancelReason, cancelReasonUser, now)
	return s.repo.Update(ctx, cancelled)
}

// MarkAsRead 重复调用不会改变第一次的已读时间
func (s *Service) MarkAsRead(ctx context.Context, id uint64) (domain.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}
	if !n.ReadAt.IsZero() {
		return n, nil
	}
	return s.repo.Update(ctx, n.MarkAsRead(s.clock.Now()))
}

func (s *Service) Resubmit(ctx context.Context, id uint64) (domain.Notification, error) {
	return s.sender.Resubmit(ctx, id)
}

func (s *Service) ConfirmDelivery(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	return s.sender.ConfirmDelivery(ctx, deliveryID)
}

// Dispatch 调度器到期之后的回调。
// 周期通知的每一次发送先落库，ID 由原通知和计划时间决定，已经创建过的就不再发送
func (s *Service) Dispatch(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if parentID, ok := n.RecurrenceOf(); ok {
		parent, err := s.repo.GetByID(ctx, parentID)
		if err != nil {
			return n, err
		}
		// 原通知可能在别的实例上被取消了
		if parent.Status != domain.NotificationStatusPending {
			s.logger.Info("周期通知已经不是待发送状态，停止调度",
				elog.Any("id", parentID), elog.String("status", parent.Status.String()))
			if err = s.scheduler.Cancel(ctx, parentID); err != nil {
				s.logger.Warn("取消调度失败", elog.Any("id", parentID), elog.FieldErr(err))
			}
			return n, nil
		}
		created, err := s.repo.Create(ctx, n)
		if errors.Is(err, errs.ErrNotificationDuplicate) {
			s.logger.Info("周期通知已经被创建，跳过", elog.Any("id", n.ID))
			return n, nil
		}
		if err != nil {
			return n, err
		}
		return s.sender.Send(ctx, created)
	}

	// 调度器里的副本可能已经过时，以存储为准
	cur, err := s.repo.GetByID(ctx, n.ID)
	if err != nil {
		return n, err
	}
	if cur.Status != domain.NotificationStatusPending {
		s.logger.Info("通知已经不是待发送状态，跳过",
			elog.Any("id", cur.ID), elog.String("status", cur.Status.String()))
		return cur, nil
	}
	return s.sender.Send(ctx, cur)
}

// RecoverScheduled 把存储里待发送的计划通知交给调度器，启动和接管的时候调用。
// 按ID分批读取全部待发送的通知，已经过期的直接取消。
// 多实例部署时调度器里不在数据库待发送列表中的通知会被清理
func (s *Service) RecoverScheduled(ctx context.Context) (int, error) {
	now := s.clock.Now()
	var (
		cnt     int
		afterID uint64
		result  *multierror.Error
	)
	pending := make(map[uint64]struct{})
	for {
		ns, err := s.repo.ListByStatus(ctx, domain.NotificationStatusPending, afterID, s.recoverBatchSize)
		if err != nil {
			// 没有读完，不能清理
			result = multierror.Append(result, err)
			return cnt, result.ErrorOrNil()
		}
		for _, n := range ns {
			if n.ScheduledFor.IsZero() {
				continue
			}
			if n.IsExpired(now) {
				cancelled, err1 := n.MarkAsCancelled(now)
				if err1 == nil {
					_, err1 = s.repo.Update(ctx, cancelled.WithMetadata(domain.MetadataCancelReason, cancelReasonExpired, now))
				}
				if err1 != nil {
					result = multierror.Append(result, err1)
				}
				continue
			}
			pending[n.ID] = struct{}{}
			if err1 := s.scheduler.Restore(n); err1 != nil {
				result = multierror.Append(result, err1)
				continue
			}
			cnt++
		}
		if len(ns) < s.recoverBatchSize {
			break
		}
		afterID = ns[len(ns)-1].ID
	}
	if s.distributed {
		if removed := s.scheduler.Retain(pending); removed > 0 {
			s.logger.Info("清理已经不是待发送状态的计划通知", elog.Int("count", removed))
		}
	}
	if cnt > 0 {
		s.logger.Info("恢复计划通知", elog.Int("count", cnt))
	}
	return cnt, result.ErrorOrNil()
}
