package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/pkg/ratelimit"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"github.com/gotomicro/ego/core/elog"
)

// ErrRateLimited 超过了厂商的调用频率
var ErrRateLimited = errors.New("触发限流")

var _ provider.Provider = (*Provider)(nil)

// Provider 按供应商名称限流。被限流的请求不会发给厂商，记为一次发送失败
type Provider struct {
	provider.Provider
	limiter ratelimit.Limiter
	logger  *elog.Component
}

func NewProvider(p provider.Provider, limiter ratelimit.Limiter) *Provider {
	return &Provider{
		Provider: p,
		limiter:  limiter,
		logger:   elog.DefaultLogger,
	}
}

func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	limited, err := p.limiter.Limit(ctx, p.Name())
	if err != nil {
		// 限流器不可用的时候放行
		p.logger.Warn("限流器出错", elog.String("provider", p.Name()), elog.FieldErr(err))
	} else if limited {
		return domain.SendResult{}, fmt.Errorf("%w: %w, provider = %s",
			errs.ErrProviderDeliveryFailure, ErrRateLimited, p.Name())
	}
	return p.Provider.Send(ctx, req)
}
