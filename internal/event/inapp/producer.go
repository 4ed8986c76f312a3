package inapp

import (
	"context"
	"encoding/json"
	"fmt"

	"gitee.com/flycash/notification-dispatch/internal/pkg/mqx"
	"github.com/ecodeclub/mq-api"
)

const Topic = "notification_inapp_messages"

// Message 站内信，由收件箱服务消费落库
type Message struct {
	NotificationID uint64 `json:"notificationId"`
	DeliveryID     string `json:"deliveryId"`
	UserID         string `json:"userId"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Priority       string `json:"priority"`
	CreatedAt      int64  `json:"createdAt"`
}

type Producer interface {
	Produce(ctx context.Context, msg Message) error
}

// NewKafkaProducer 生产环境使用 kafka
func NewKafkaProducer(p mqx.KafkaProducer) (Producer, error) {
	return mqx.NewGeneralProducer[Message](p, Topic)
}

type mqProducer struct {
	producer mq.Producer
}

// NewMQProducer 基于 mq-api，本地开发可以用内存实现
func NewMQProducer(p mq.Producer) Producer {
	return &mqProducer{producer: p}
}

func (p *mqProducer) Produce(ctx context.Context, msg Message) error {
	val, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化站内信失败 %w", err)
	}
	_, err = p.producer.Produce(ctx, &mq.Message{
		Topic: Topic,
		Key:   []byte(msg.UserID),
		Value: val,
	})
	return err
}
