package ioc

import (
	"context"
	"fmt"

	"gitee.com/flycash/notification-dispatch/internal/event/delivery"
	"gitee.com/flycash/notification-dispatch/internal/event/inapp"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/ecodeclub/mq-api/memory"
	"github.com/gotomicro/ego/core/econf"
)

type kafkaConfig struct {
	// Addr 为空的时候使用内存消息队列，只适合本地开发
	Addr    string `yaml:"addr"`
	GroupID string `yaml:"groupId"`
}

func loadKafkaConfig() kafkaConfig {
	var cfg kafkaConfig
	if err := econf.UnmarshalKey("kafka", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Events 发送结果和站内信两类事件的生产者
type Events struct {
	Delivery delivery.Producer
	InApp    inapp.Producer
}

func InitEvents() Events {
	cfg := loadKafkaConfig()
	if cfg.Addr == "" {
		return initMemoryEvents()
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Addr,
		"client.id":         "notification-dispatch",
	})
	if err != nil {
		panic(fmt.Sprintf("创建生产者失败: %v", err))
	}
	dp, err := delivery.NewKafkaProducer(producer)
	if err != nil {
		panic(err)
	}
	ip, err := inapp.NewKafkaProducer(producer)
	if err != nil {
		panic(err)
	}
	return Events{Delivery: dp, InApp: ip}
}

func initMemoryEvents() Events {
	q := memory.NewMQ()
	ctx := context.Background()
	for _, topic := range []string{delivery.DeliveryTopic, inapp.Topic} {
		if err := q.CreateTopic(ctx, topic, 1); err != nil {
			panic(err)
		}
	}
	dp, err := q.Producer(delivery.DeliveryTopic)
	if err != nil {
		panic(err)
	}
	ip, err := q.Producer(inapp.Topic)
	if err != nil {
		panic(err)
	}
	return Events{
		Delivery: delivery.NewProducer(dp),
		InApp:    inapp.NewMQProducer(ip),
	}
}

// InitReceiptConsumer 没有配置 kafka 的时候返回 nil，送达回执需要调用方直接调用 ConfirmDelivery
func InitReceiptConsumer() *kafka.Consumer {
	cfg := loadKafkaConfig()
	if cfg.Addr == "" {
		return nil
	}
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Addr,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		panic(fmt.Sprintf("创建消费者失败: %v", err))
	}
	return consumer
}
