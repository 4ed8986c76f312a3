package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/pkg/mqx"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/gotomicro/ego/core/elog"
)

const (
	Topic              = "notification_delivery_receipts"
	defaultReadTimeout = time.Second
)

// Receipt 供应商的送达回执，由回调网关转换之后投递
type Receipt struct {
	DeliveryID string `json:"deliveryId"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// Confirmer 确认送达，sender.NotificationSender 实现了这个接口
type Confirmer interface {
	ConfirmDelivery(ctx context.Context, deliveryID string) (domain.Delivery, error)
}

type Consumer struct {
	consumer    mqx.Consumer
	confirmer   Confirmer
	readTimeout time.Duration
	logger      *elog.Component
}

func NewConsumer(consumer *kafka.Consumer, confirmer Confirmer) (*Consumer, error) {
	if err := consumer.SubscribeTopics([]string{Topic}, nil); err != nil {
		return nil, err
	}
	return newConsumer(consumer, confirmer), nil
}

func newConsumer(consumer mqx.Consumer, confirmer Confirmer) *Consumer {
	return &Consumer{
		consumer:    consumer,
		confirmer:   confirmer,
		readTimeout: defaultReadTimeout,
		logger:      elog.DefaultLogger.With(elog.String("topic", Topic)),
	}
}

// Start ctx 被取消之后退出
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		for ctx.Err() == nil {
			if err := c.Consume(ctx); err != nil {
				c.logger.Error("消费送达回执失败", elog.FieldErr(err))
			}
		}
	}()
}

// Consume 处理一条回执。临时错误不提交，下次重新消费
func (c *Consumer) Consume(ctx context.Context) error {
	msg, err := c.consumer.ReadMessage(c.readTimeout)
	if err != nil {
		var kErr kafka.Error
		if errors.As(err, &kErr) && kErr.Code() == kafka.ErrTimedOut {
			return nil
		}
		return fmt.Errorf("获取消息失败: %w", err)
	}

	var r Receipt
	if err = json.Unmarshal(msg.Value, &r); err != nil {
		c.logger.Warn("解析消息失败", elog.FieldErr(err), elog.Any("msg", msg))
		return c.commit(msg)
	}

	if r.Status != domain.DeliveryStatusDelivered.String() {
		// 只处理送达，失败回执只记录
		c.logger.Warn("供应商回执发送失败", elog.String("deliveryId", r.DeliveryID),
			elog.String("status", r.Status), elog.String("reason", r.Reason))
		return c.commit(msg)
	}

	_, err = c.confirmer.ConfirmDelivery(ctx, r.DeliveryID)
	switch {
	case err == nil,
		errors.Is(err, errs.ErrDeliveryNotFound),
		errors.Is(err, errs.ErrInvalidStateTransition):
		if err != nil {
			c.logger.Warn("忽略无法确认的回执", elog.String("deliveryId", r.DeliveryID), elog.FieldErr(err))
		}
		return c.commit(msg)
	default:
		return fmt.Errorf("确认送达失败 %s: %w", r.DeliveryID, err)
	}
}

func (c *Consumer) commit(msg *kafka.Message) error {
	if _, err := c.consumer.CommitMessage(msg); err != nil {
		c.logger.Warn("提交消息失败",
			elog.FieldErr(err),
			elog.Any("partition", msg.TopicPartition.Partition),
			elog.Any("offset", msg.TopicPartition.Offset))
		return err
	}
	return nil
}
