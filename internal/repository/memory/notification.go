package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/repository"
)

var _ repository.NotificationRepository = (*NotificationRepository)(nil)

// NotificationRepository 内存实现，单进程部署和测试使用，语义和数据库实现保持一致
type NotificationRepository struct {
	mu   sync.RWMutex
	data map[uint64]domain.Notification
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{data: make(map[uint64]domain.Notification)}
}

func (r *NotificationRepository) Create(_ context.Context, n domain.Notification) (domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[n.ID]; ok {
		return domain.Notification{}, fmt.Errorf("%w: id=%d", errs.ErrNotificationDuplicate, n.ID)
	}
	n.Version = 1
	r.data[n.ID] = n
	return n, nil
}

func (r *NotificationRepository) Update(_ context.Context, n domain.Notification) (domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.data[n.ID]
	if !ok || cur.Version != n.Version {
		return domain.Notification{}, fmt.Errorf("并发竞争失败 %w, id %d", errs.ErrNotificationVersionMismatch, n.ID)
	}
	n.Version++
	r.data[n.ID] = n
	return n, nil
}

func (r *NotificationRepository) GetByID(_ context.Context, id uint64) (domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.data[id]
	if !ok {
		return domain.Notification{}, fmt.Errorf("%w: id=%d", errs.ErrNotificationNotFound, id)
	}
	return n, nil
}

func (r *NotificationRepository) ListByUserID(_ context.Context, userID string, offset, limit int) ([]domain.Notification, error) {
	res := r.filter(func(n domain.Notification) bool {
		return n.UserID == userID
	})
	slices.SortFunc(res, func(a, b domain.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return page(res, offset, limit), nil
}

func (r *NotificationRepository) ListByStatus(_ context.Context, status domain.NotificationStatus, afterID uint64, limit int) ([]domain.Notification, error) {
	res := r.filter(func(n domain.Notification) bool {
		return n.Status == status && n.ID > afterID
	})
	slices.SortFunc(res, func(a, b domain.Notification) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})
	return page(res, 0, limit), nil
}

func (r *NotificationRepository) ListDue(_ context.Context, start, end time.Time, limit int) ([]domain.Notification, error) {
	res := r.filter(func(n domain.Notification) bool {
		return n.Status == domain.NotificationStatusPending &&
			!n.ScheduledFor.IsZero() &&
			!n.ScheduledFor.Before(start) &&
			!n.ScheduledFor.After(end)
	})
	slices.SortFunc(res, func(a, b domain.Notification) int {
		return a.ScheduledFor.Compare(b.ScheduledFor)
	})
	return page(res, 0, limit), nil
}

func (r *NotificationRepository) filter(fn func(n domain.Notification) bool) []domain.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]domain.Notification, 0, len(r.data))
	for _, n := range r.data {
		if fn(n) {
			res = append(res, n)
		}
	}
	return res
}

func page[T any](src []T, offset, limit int) []T {
	if offset >= len(src) {
		return []T{}
	}
	src = src[offset:]
	if limit > 0 && limit < len(src) {
		src = src[:limit]
	}
	return src
}
