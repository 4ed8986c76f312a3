package metrics

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	namespace     = "notification_dispatch"
	statusSuccess = "success"
	statusError   = "error"
)

// Hook 实现了 redis.Hook 接口，记录命令、管道和建连的指标
type Hook struct {
	commands *prometheus.SummaryVec
	pipeline *prometheus.SummaryVec
	dials    *prometheus.CounterVec
}

var _ redis.Hook = (*Hook)(nil)

func NewHook(reg prometheus.Registerer) (*Hook, error) {
	h := &Hook{
		commands: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  namespace,
			Subsystem:  "redis",
			Name:       "command_duration_seconds",
			Help:       "Redis 命令耗时",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"command", "status"}),
		pipeline: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  namespace,
			Subsystem:  "redis",
			Name:       "pipeline_duration_seconds",
			Help:       "Redis 管道耗时",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"status"}),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "dials_total",
			Help:      "Redis 建立连接次数",
		}, []string{"status"}),
	}
	for _, c := range []prometheus.Collector{h.commands, h.pipeline, h.dials} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func status(err error) string {
	// redis.Nil 是 key 不存在，不算出错
	if err != nil && !errors.Is(err, redis.Nil) {
		return statusError
	}
	return statusSuccess
}

func (h *Hook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.commands.WithLabelValues(cmd.Name(), status(err)).Observe(time.Since(start).Seconds())
		return err
	}
}

func (h *Hook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		st := status(err)
		for _, cmd := range cmds {
			if status(cmd.Err()) == statusError {
				st = statusError
				break
			}
		}
		h.pipeline.WithLabelValues(st).Observe(time.Since(start).Seconds())
		return err
	}
}

func (h *Hook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		h.dials.WithLabelValues(status(err)).Inc()
		return conn, err
	}
}

// WithMetrics 指标注册到 prometheus 默认的 Registerer
func WithMetrics(client *redis.Client) *redis.Client {
	h, err := NewHook(prometheus.DefaultRegisterer)
	if err != nil {
		panic(err)
	}
	client.AddHook(h)
	return client
}
