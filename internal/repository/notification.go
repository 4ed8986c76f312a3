package repository

import (
	"context"
	"encoding/json"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/repository/dao"
	"github.com/ecodeclub/ekit/slice"
)

// NotificationRepository 通知仓储接口
type NotificationRepository interface {
	// Create 创建一条通知，ID 重复返回 errs.ErrNotificationDuplicate
	Create(ctx context.Context, notification domain.Notification) (domain.Notification, error)
	// Update 按版本号更新，返回的通知带着新的版本号。
	// 版本号不一致返回 errs.ErrNotificationVersionMismatch
	Update(ctx context.Context, notification domain.Notification) (domain.Notification, error)
	GetByID(ctx context.Context, id uint64) (domain.Notification, error)
	ListByUserID(ctx context.Context, userID string, offset, limit int) ([]domain.Notification, error)
	// ListByStatus 按ID升序分页，返回ID大于 afterID 的记录
	ListByStatus(ctx context.Context, status domain.NotificationStatus, afterID uint64, limit int) ([]domain.Notification, error)
	// ListDue 计划发送时间在 [start, end] 之间还没有发送的通知
	ListDue(ctx context.Context, start, end time.Time, limit int) ([]domain.Notification, error)
}

// notificationRepository 通知仓储实现
type notificationRepository struct {
	dao dao.NotificationDAO
}

// NewNotificationRepository 创建通知仓储实例
func NewNotificationRepository(d dao.NotificationDAO) NotificationRepository {
	return &notificationRepository{
		dao: d,
	}
}

func (r *notificationRepository) Create(ctx context.Context, notification domain.Notification) (domain.Notification, error) {
	created, err := r.dao.Create(ctx, r.toEntity(notification))
	if err != nil {
		return domain.Notification{}, err
	}
	return r.toDomain(created), nil
}

func (r *notificationRepository) Update(ctx context.Context, notification domain.Notification) (domain.Notification, error) {
	updated, err := r.dao.Update(ctx, r.toEntity(notification))
	if err != nil {
		return domain.Notification{}, err
	}
	notification.Version = updated.Version
	return notification, nil
}

func (r *notificationRepository) GetByID(ctx context.Context, id uint64) (domain.Notification, error) {
	n, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}
	return r.toDomain(n), nil
}

func (r *notificationRepository) ListByUserID(ctx context.Context, userID string, offset, limit int) ([]domain.Notification, error) {
	ns, err := r.dao.ListByUserID(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	return r.toDomains(ns), nil
}

func (r *notificationRepository) ListByStatus(ctx context.Context, status domain.NotificationStatus, afterID uint64, limit int) ([]domain.Notification, error) {
	ns, err := r.dao.ListByStatus(ctx, status.String(), afterID, limit)
	if err != nil {
		return nil, err
	}
	return r.toDomains(ns), nil
}

func (r *notificationRepository) ListDue(ctx context.Context, start, end time.Time, limit int) ([]domain.Notification, error) {
	ns, err := r.dao.ListDue(ctx, start.UnixMilli(), end.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	return r.toDomains(ns), nil
}

func (r *notificationRepository) toDomains(ns []dao.Notification) []domain.Notification {
	return slice.Map(ns, func(_ int, src dao.Notification) domain.Notification {
		return r.toDomain(src)
	})
}

func (r *notificationRepository) toEntity(n domain.Notification) dao.Notification {
	channels, _ := json.Marshal(n.Channels)
	variables, _ := json.Marshal(n.Variables)
	recipients, _ := json.Marshal(n.Recipients)
	metadata, _ := json.Marshal(n.Metadata)
	return dao.Notification{
		ID:           n.ID,
		UserID:       n.UserID,
		Type:         n.Type,
		Title:        n.Title,
		Message:      n.Message,
		Channels:     channels,
		Priority:     string(n.Priority),
		TemplateID:   n.TemplateID,
		Variables:    variables,
		Recipients:   recipients,
		Metadata:     metadata,
		ScheduledFor: toMilli(n.ScheduledFor),
		ExpiresAt:    toMilli(n.ExpiresAt),
		RetryCount:   n.RetryCount,
		MaxRetries:   n.MaxRetries,
		LastError:    n.LastError,
		Status:       n.Status.String(),
		SentAt:       toMilli(n.SentAt),
		DeliveredAt:  toMilli(n.DeliveredAt),
		ReadAt:       toMilli(n.ReadAt),
		Version:      n.Version,
		Ctime:        toMilli(n.CreatedAt),
		Utime:        toMilli(n.UpdatedAt),
	}
}

func (r *notificationRepository) toDomain(n dao.Notification) domain.Notification {
	var channels []domain.Channel
	_ = json.Unmarshal(n.Channels, &channels)
	var variables map[string]string
	_ = json.Unmarshal(n.Variables, &variables)
	var recipients map[domain.Channel]string
	_ = json.Unmarshal(n.Recipients, &recipients)
	var metadata map[string]any
	_ = json.Unmarshal(n.Metadata, &metadata)
	return domain.Notification{
		ID:           n.ID,
		UserID:       n.UserID,
		Type:         n.Type,
		Title:        n.Title,
		Message:      n.Message,
		Channels:     channels,
		Priority:     domain.Priority(n.Priority),
		TemplateID:   n.TemplateID,
		Variables:    variables,
		Recipients:   recipients,
		Metadata:     metadata,
		ScheduledFor: fromMilli(n.ScheduledFor),
		ExpiresAt:    fromMilli(n.ExpiresAt),
		RetryCount:   n.RetryCount,
		MaxRetries:   n.MaxRetries,
		LastError:    n.LastError,
		Status:       domain.NotificationStatus(n.Status),
		SentAt:       fromMilli(n.SentAt),
		DeliveredAt:  fromMilli(n.DeliveredAt),
		ReadAt:       fromMilli(n.ReadAt),
		Version:      n.Version,
		CreatedAt:    fromMilli(n.Ctime),
		UpdatedAt:    fromMilli(n.Utime),
	}
}

// 零值时间存为 0
func toMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
