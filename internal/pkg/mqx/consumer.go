package mqx

import (
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Consumer *kafka.Consumer 中用到的方法，方便测试
type Consumer interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
}
