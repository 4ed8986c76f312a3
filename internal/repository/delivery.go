package repository

import (
	"context"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/repository/dao"
	"github.com/ecodeclub/ekit/slice"
)

// DeliveryRepository 发送记录仓储接口
type DeliveryRepository interface {
	Create(ctx context.Context, delivery domain.Delivery) (domain.Delivery, error)
	Update(ctx context.Context, delivery domain.Delivery) error
	GetByID(ctx context.Context, id string) (domain.Delivery, error)
	// ListByNotificationID 通知的全部发送记录，按尝试次数排序
	ListByNotificationID(ctx context.Context, notificationID uint64) ([]domain.Delivery, error)
}

type deliveryRepository struct {
	dao dao.DeliveryDAO
}

func NewDeliveryRepository(d dao.DeliveryDAO) DeliveryRepository {
	return &deliveryRepository{dao: d}
}

func (r *deliveryRepository) Create(ctx context.Context, delivery domain.Delivery) (domain.Delivery, error) {
	created, err := r.dao.Create(ctx, r.toEntity(delivery))
	if err != nil {
		return domain.Delivery{}, err
	}
	return r.toDomain(created), nil
}

func (r *deliveryRepository) Update(ctx context.Context, delivery domain.Delivery) error {
	return r.dao.Update(ctx, r.toEntity(delivery))
}

func (r *deliveryRepository) GetByID(ctx context.Context, id string) (domain.Delivery, error) {
	d, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return domain.Delivery{}, err
	}
	return r.toDomain(d), nil
}

func (r *deliveryRepository) ListByNotificationID(ctx context.Context, notificationID uint64) ([]domain.Delivery, error) {
	ds, err := r.dao.ListByNotificationID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	return slice.Map(ds, func(_ int, src dao.Delivery) domain.Delivery {
		return r.toDomain(src)
	}), nil
}

func (r *deliveryRepository) toEntity(d domain.Delivery) dao.Delivery {
	return dao.Delivery{
		ID:                d.ID,
		NotificationID:    d.NotificationID,
		Channel:           d.Channel.String(),
		ProviderName:      d.ProviderName,
		RecipientAddress:  d.RecipientAddress,
		Status:            d.Status.String(),
		ProviderMessageID: d.ProviderMessageID,
		AttemptNumber:     d.AttemptNumber,
		Error:             d.Error,
		SentAt:            toMilli(d.SentAt),
		DeliveredAt:       toMilli(d.DeliveredAt),
		Ctime:             toMilli(d.CreatedAt),
		Utime:             toMilli(d.UpdatedAt),
	}
}

func (r *deliveryRepository) toDomain(d dao.Delivery) domain.Delivery {
	return domain.Delivery{
		ID:                d.ID,
		NotificationID:    d.NotificationID,
		Channel:           domain.Channel(d.Channel),
		ProviderName:      d.ProviderName,
		RecipientAddress:  d.RecipientAddress,
		Status:            domain.DeliveryStatus(d.Status),
		ProviderMessageID: d.ProviderMessageID,
		AttemptNumber:     d.AttemptNumber,
		Error:             d.Error,
		SentAt:            fromMilli(d.SentAt),
		DeliveredAt:       fromMilli(d.DeliveredAt),
		CreatedAt:         fromMilli(d.Ctime),
		UpdatedAt:         fromMilli(d.Utime),
	}
}
