package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/repository"
)

var _ repository.DeliveryRepository = (*DeliveryRepository)(nil)

type DeliveryRepository struct {
	mu   sync.RWMutex
	data map[string]domain.Delivery
}

func NewDeliveryRepository() *DeliveryRepository {
	return &DeliveryRepository{data: make(map[string]domain.Delivery)}
}

func (r *DeliveryRepository) Create(_ context.Context, d domain.Delivery) (domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[d.ID]; ok {
		return domain.Delivery{}, fmt.Errorf("%w: 发送记录 %s 已存在", errs.ErrInvalidParameter, d.ID)
	}
	r.data[d.ID] = d
	return d, nil
}

func (r *DeliveryRepository) Update(_ context.Context, d domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[d.ID]; !ok {
		return fmt.Errorf("%w: id=%s", errs.ErrDeliveryNotFound, d.ID)
	}
	r.data[d.ID] = d
	return nil
}

func (r *DeliveryRepository) GetByID(_ context.Context, id string) (domain.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.data[id]
	if !ok {
		return domain.Delivery{}, fmt.Errorf("%w: id=%s", errs.ErrDeliveryNotFound, id)
	}
	return d, nil
}

func (r *DeliveryRepository) ListByNotificationID(_ context.Context, notificationID uint64) ([]domain.Delivery, error) {
	r.mu.RLock()
	res := make([]domain.Delivery, 0, 4)
	for _, d := range r.data {
		if d.NotificationID == notificationID {
			res = append(res, d)
		}
	}
	r.mu.RUnlock()
	slices.SortFunc(res, func(a, b domain.Delivery) int {
		if a.AttemptNumber != b.AttemptNumber {
			return a.AttemptNumber - b.AttemptNumber
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return res, nil
}
