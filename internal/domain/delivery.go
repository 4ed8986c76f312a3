package domain

import (
	"time"
)

// DeliveryStatus 投递状态
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string {
	return string(s)
}

// Delivery 一次投递：一条通知在一个渠道上通过一个供应商的一次尝试。
// 只通过 NotificationID 弱引用通知，不会修改通知
type Delivery struct {
	ID                string
	NotificationID    uint64
	Channel           Channel
	ProviderName      string
	RecipientAddress  string
	Status            DeliveryStatus
	ProviderMessageID string
	AttemptNumber     int
	Error             string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SentAt      time.Time
	DeliveredAt time.Time
}

// NewDelivery 在调用供应商的那一刻创建
func NewDelivery(id string, notificationID uint64, channel Channel, providerName, recipient string, attempt int, now time.Time) Delivery {
	return Delivery{
		ID:               id,
		NotificationID:   notificationID,
		Channel:          channel,
		ProviderName:     providerName,
		RecipientAddress: recipient,
		Status:           DeliveryStatusPending,
		AttemptNumber:    attempt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (d Delivery) MarkAsSent(providerMessageID string, now time.Time) (Delivery, error) {
	if d.Status != DeliveryStatusPending {
		return d, newTransitionError(d.Status, DeliveryStatusSent)
	}
	d.Status = DeliveryStatusSent
	d.ProviderMessageID = providerMessageID
	if d.SentAt.IsZero() {
		d.SentAt = now
	}
	d.UpdatedAt = now
	return d, nil
}

func (d Delivery) MarkAsFailed(reason string, now time.Time) (Delivery, error) {
	if d.Status != DeliveryStatusPending {
		return d, newTransitionError(d.Status, DeliveryStatusFailed)
	}
	d.Status = DeliveryStatusFailed
	d.Error = reason
	d.UpdatedAt = now
	return d, nil
}

// MarkAsDelivered 支持回执的渠道在 SENT 之后确认送达
func (d Delivery) MarkAsDelivered(now time.Time) (Delivery, error) {
	if d.Status != DeliveryStatusSent {
		return d, newTransitionError(d.Status, DeliveryStatusDelivered)
	}
	d.Status = DeliveryStatusDelivered
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = now
	}
	d.UpdatedAt = now
	return d, nil
}

func (d Delivery) IsTerminal() bool {
	return d.Status != DeliveryStatusPending
}

// Succeeded 渠道已经受理
func (d Delivery) Succeeded() bool {
	return d.Status == DeliveryStatusSent || d.Status == DeliveryStatusDelivered
}
