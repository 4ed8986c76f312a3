// Provider 为供应商实现添加指标收集的装饰器
package metrics

import (
	"context"
	"errors"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
	statusTimeout = "timeout"
)

// Collectors 所有供应商共用一组指标，用 provider 标签区分
type Collectors struct {
	sendDurationSummary *prometheus.SummaryVec
	sendCounter         *prometheus.CounterVec
	sendStatusCounter   *prometheus.CounterVec
	available           *prometheus.GaugeVec
}

// NewCollectors 重复注册时复用已经注册的指标
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		sendDurationSummary: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "provider_send_duration_seconds",
				Help:       "供应商发送通知耗时统计（秒）",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.95: 0.005, 0.99: 0.001},
				MaxAge:     time.Minute * 5,
			},
			[]string{"provider", "channel", "status"},
		),
		sendCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_send_total",
				Help: "供应商发送通知总数",
			},
			[]string{"provider", "channel"},
		),
		sendStatusCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_send_status_total",
				Help: "供应商发送通知状态统计",
			},
			[]string{"provider", "channel", "status"},
		),
		available: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "provider_available",
				Help: "供应商是否可用，1 可用 0 不可用",
			},
			[]string{"provider", "channel"},
		),
	}
	var err error
	if c.sendDurationSummary, err = register(reg, c.sendDurationSummary); err != nil {
		return nil, err
	}
	if c.sendCounter, err = register(reg, c.sendCounter); err != nil {
		return nil, err
	}
	if c.sendStatusCounter, err = register(reg, c.sendStatusCounter); err != nil {
		return nil, err
	}
	if c.available, err = register(reg, c.available); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

var _ provider.Provider = (*Provider)(nil)

// Provider 为供应商实现添加指标收集的装饰器
type Provider struct {
	provider.Provider
	collectors *Collectors
}

// NewProvider 创建一个新的带有指标收集的供应商
func NewProvider(p provider.Provider, collectors *Collectors) *Provider {
	return &Provider{
		Provider:   p,
		collectors: collectors,
	}
}

func (p *Provider) IsAvailable() bool {
	ok := p.Provider.IsAvailable()
	v := 0.0
	if ok {
		v = 1
	}
	p.collectors.available.WithLabelValues(p.Name(), p.Channel().String()).Set(v)
	return ok
}

// Send 发送通知并记录指标
func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	name, channel := p.Name(), req.Channel.String()
	startTime := time.Now()
	p.collectors.sendCounter.WithLabelValues(name, channel).Inc()

	res, err := p.Provider.Send(ctx, req)

	status := statusSuccess
	switch {
	case errors.Is(err, errs.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		status = statusTimeout
	case err != nil:
		status = statusFailed
	}
	p.collectors.sendStatusCounter.WithLabelValues(name, channel, status).Inc()
	p.collectors.sendDurationSummary.WithLabelValues(name, channel, status).Observe(time.Since(startTime).Seconds())
	return res, err
}
