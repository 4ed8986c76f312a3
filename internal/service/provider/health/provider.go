package health

import (
	"context"
	"sync/atomic"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"github.com/gotomicro/ego/core/elog"
)

const (
	defaultWindow      = 128
	defaultFailPercent = 0.1
)

var _ provider.Provider = (*Provider)(nil)

// Provider 统计最近一段请求的失败次数，超过阈值之后标记为不健康，
// 路由会跳过不健康的供应商，直到 Monitor 探测成功
type Provider struct {
	provider.Provider
	healthy       atomic.Bool
	ring          *ring
	failPercent   float64
	failThreshold int
	logger        *elog.Component
}

type Option func(p *Provider)

// WithWindow 统计窗口，单位是请求数
func WithWindow(window int) Option {
	return func(p *Provider) {
		p.ring = newRing(window)
	}
}

// WithFailPercent 窗口内失败比例超过它就不健康
func WithFailPercent(percent float64) Option {
	return func(p *Provider) {
		p.failPercent = percent
	}
}

func NewProvider(p provider.Provider, opts ...Option) *Provider {
	res := &Provider{
		Provider:    p,
		ring:        newRing(defaultWindow),
		failPercent: defaultFailPercent,
		logger:      elog.DefaultLogger,
	}
	for _, opt := range opts {
		opt(res)
	}
	res.failThreshold = int(float64(res.ring.size()) * res.failPercent)
	res.healthy.Store(true)
	return res
}

func (p *Provider) IsAvailable() bool {
	return p.healthy.Load() && p.Provider.IsAvailable()
}

func (p *Provider) Healthy() bool {
	return p.healthy.Load()
}

func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	res, err := p.Provider.Send(ctx, req)
	if err == nil {
		p.ring.mark(false)
		return res, nil
	}
	p.ring.mark(true)
	if p.ring.failures() > p.failThreshold && p.healthy.CompareAndSwap(true, false) {
		p.logger.Warn("供应商失败次数过多，标记为不健康",
			elog.String("provider", p.Name()),
			elog.Int("threshold", p.failThreshold))
	}
	return res, err
}

func (p *Provider) markHealthy() {
	p.ring.reset()
	if p.healthy.CompareAndSwap(false, true) {
		p.logger.Info("供应商恢复健康", elog.String("provider", p.Name()))
	}
}
