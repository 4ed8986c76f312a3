package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/errs"
	"github.com/ego-component/egorm"
	"gorm.io/gorm"
)

type DeliveryDAO interface {
	Create(ctx context.Context, data Delivery) (Delivery, error)
	Update(ctx context.Context, data Delivery) error
	GetByID(ctx context.Context, id string) (Delivery, error)
	// ListByNotificationID 按尝试次数排序
	ListByNotificationID(ctx context.Context, notificationID uint64) ([]Delivery, error)
}

// Delivery 每个渠道的每一次发送尝试
type Delivery struct {
	ID                string `gorm:"type:CHAR(36);primaryKey;comment:'UUID'"`
	NotificationID    uint64 `gorm:"NOT NULL;index:idx_notification_id;comment:'通知ID'"`
	Channel           string `gorm:"type:ENUM('EMAIL','SMS','PUSH','IN_APP','WEBHOOK');NOT NULL;comment:'渠道'"`
	ProviderName      string `gorm:"type:VARCHAR(64);NOT NULL;comment:'供应商'"`
	RecipientAddress  string `gorm:"type:VARCHAR(512);NOT NULL;comment:'接收地址'"`
	Status            string `gorm:"type:ENUM('PENDING','SENT','DELIVERED','FAILED');NOT NULL;DEFAULT:'PENDING';comment:'状态'"`
	ProviderMessageID string `gorm:"type:VARCHAR(256);index:idx_provider_message_id;comment:'供应商返回的消息ID'"`
	AttemptNumber     int    `gorm:"type:INT;NOT NULL;DEFAULT:1;comment:'第几次尝试'"`
	Error             string `gorm:"type:TEXT;comment:'失败原因'"`
	SentAt            int64
	DeliveredAt       int64
	Ctime             int64
	Utime             int64
}

type deliveryDAO struct {
	db *egorm.Component
}

func NewDeliveryDAO(db *egorm.Component) DeliveryDAO {
	return &deliveryDAO{db: db}
}

func (d *deliveryDAO) Create(ctx context.Context, data Delivery) (Delivery, error) {
	now := time.Now().UnixMilli()
	if data.Ctime == 0 {
		data.Ctime = now
	}
	data.Utime = now
	err := d.db.WithContext(ctx).Create(&data).Error
	return data, err
}

func (d *deliveryDAO) Update(ctx context.Context, data Delivery) error {
	result := d.db.WithContext(ctx).Model(&Delivery{}).
		Where("id = ?", data.ID).
		Updates(map[string]any{
			"status":              data.Status,
			"provider_message_id": data.ProviderMessageID,
			"error":               data.Error,
			"sent_at":             data.SentAt,
			"delivered_at":        data.DeliveredAt,
			"utime":               time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected < 1 {
		return fmt.Errorf("%w: id=%s", errs.ErrDeliveryNotFound, data.ID)
	}
	return nil
}

func (d *deliveryDAO) GetByID(ctx context.Context, id string) (Delivery, error) {
	var res Delivery
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&res).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Delivery{}, fmt.Errorf("%w: id=%s", errs.ErrDeliveryNotFound, id)
		}
		return Delivery{}, err
	}
	return res, nil
}

func (d *deliveryDAO) ListByNotificationID(ctx context.Context, notificationID uint64) ([]Delivery, error) {
	var res []Delivery
	err := d.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("attempt_number, ctime").
		Find(&res).Error
	return res, err
}
