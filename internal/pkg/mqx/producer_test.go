package mqx

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userEvent struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type fakeProducer struct {
	msgs       []*kafka.Message
	produceErr error
	reportErr  error
	noReport   bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.msgs = append(f.msgs, msg)
	if !f.noReport {
		report := *msg
		report.TopicPartition.Error = f.reportErr
		deliveryChan <- &report
	}
	return nil
}

func TestGeneralProducer_Produce(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		producer *fakeProducer
		timeout  time.Duration
		wantErr  bool
	}{
		{
			name:     "发送成功",
			producer: &fakeProducer{},
		},
		{
			name:     "发送失败",
			producer: &fakeProducer{produceErr: errors.New("queue full")},
			wantErr:  true,
		},
		{
			name:     "投递失败",
			producer: &fakeProducer{reportErr: errors.New("broker down")},
			wantErr:  true,
		},
		{
			name:     "等待确认超时",
			producer: &fakeProducer{noReport: true},
			timeout:  10 * time.Millisecond,
			wantErr:  true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewGeneralProducer[userEvent](tc.producer, "user_events")
			require.NoError(t, err)

			ctx := t.Context()
			if tc.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tc.timeout)
				defer cancel()
			}
			err = p.Produce(ctx, userEvent{Name: "alex", Age: 18})
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, tc.producer.msgs, 1)
			msg := tc.producer.msgs[0]
			assert.Equal(t, "user_events", *msg.TopicPartition.Topic)
			var got userEvent
			require.NoError(t, json.Unmarshal(msg.Value, &got))
			assert.Equal(t, userEvent{Name: "alex", Age: 18}, got)
		})
	}
}

func TestNewGeneralProducer(t *testing.T) {
	t.Parallel()
	_, err := NewGeneralProducer[userEvent](&fakeProducer{}, "")
	assert.Error(t, err)
}
