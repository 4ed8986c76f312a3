package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/pkg/mqx"
	"github.com/ecodeclub/mq-api"
)

const DeliveryTopic = "notification_delivery_events"

// Event 每一次渠道发送的结果
type Event struct {
	NotificationID    uint64 `json:"notificationId"`
	DeliveryID        string `json:"deliveryId"`
	Channel           string `json:"channel"`
	Provider          string `json:"provider"`
	Status            string `json:"status"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	AttemptNumber     int    `json:"attemptNumber"`
	Error             string `json:"error,omitempty"`
	OccurredAt        int64  `json:"occurredAt"`
}

func NewEvent(d domain.Delivery, now time.Time) Event {
	return Event{
		NotificationID:    d.NotificationID,
		DeliveryID:        d.ID,
		Channel:           d.Channel.String(),
		Provider:          d.ProviderName,
		Status:            d.Status.String(),
		ProviderMessageID: d.ProviderMessageID,
		AttemptNumber:     d.AttemptNumber,
		Error:             d.Error,
		OccurredAt:        now.UnixMilli(),
	}
}

// Producer 发布发送结果事件
type Producer interface {
	Produce(ctx context.Context, evt Event) error
}

// NewKafkaProducer 生产环境直接写 kafka
func NewKafkaProducer(p mqx.KafkaProducer) (Producer, error) {
	return mqx.NewGeneralProducer[Event](p, DeliveryTopic)
}

type producer struct {
	producer mq.Producer
}

func NewProducer(p mq.Producer) Producer {
	return &producer{producer: p}
}

func (p *producer) Produce(ctx context.Context, evt Event) error {
	val, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化topic的消息失败 %w", err)
	}
	_, err = p.producer.Produce(ctx, &mq.Message{
		Topic: DeliveryTopic,
		// 同一条通知的事件落在同一个分区
		Key:   []byte(strconv.FormatUint(evt.NotificationID, 10)),
		Value: val,
	})
	return err
}

// NopProducer 不需要发布事件的时候使用
type NopProducer struct{}

func (NopProducer) Produce(context.Context, Event) error { return nil }
