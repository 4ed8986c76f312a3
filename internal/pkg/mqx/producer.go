package mqx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// KafkaProducer *kafka.Producer 中用到的方法
type KafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// GeneralProducer 把事件序列化成 JSON 发送到固定的 topic，等待 broker 确认
type GeneralProducer[T any] struct {
	producer KafkaProducer
	topic    string
}

func NewGeneralProducer[T any](producer KafkaProducer, topic string) (*GeneralProducer[T], error) {
	if producer == nil || topic == "" {
		return nil, fmt.Errorf("kafka producer 和 topic 不能为空")
	}
	return &GeneralProducer[T]{producer: producer, topic: topic}, nil
}

func (p *GeneralProducer[T]) Produce(ctx context.Context, evt T) error {
	val, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化消息失败 %w", err)
	}
	deliveryChan := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Value:          val,
	}, deliveryChan)
	if err != nil {
		return fmt.Errorf("发送消息失败 %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("未知的投递结果 %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("消息投递失败 %w", m.TopicPartition.Error)
		}
		return nil
	}
}
