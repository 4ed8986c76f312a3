package inapp

import (
	"context"
	"fmt"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	inappevt "gitee.com/flycash/notification-dispatch/internal/event/inapp"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
)

var _ provider.Provider = (*Provider)(nil)

// Provider 站内信，消息投递到收件箱的 topic，由收件箱服务负责落库和展示
type Provider struct {
	*provider.Base
	producer inappevt.Producer
	now      func() time.Time
}

func NewProvider(name string, producer inappevt.Producer, cfg domain.ProviderConfig) (*Provider, error) {
	p := &Provider{
		Base:     provider.NewBase(name, domain.ChannelInApp),
		producer: producer,
		now:      time.Now,
	}
	return p, p.Configure(cfg)
}

func (p *Provider) IsAvailable() bool {
	return p.Enabled()
}

func (p *Provider) HealthCheck(_ context.Context) error {
	return p.CheckEnabled()
}

// Send 接收地址就是用户ID
func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	if err := p.CheckEnabled(); err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	if req.Recipient == "" {
		return domain.SendResult{}, p.Failure(fmt.Errorf("%w: 用户ID不能为空", errs.ErrInvalidParameter))
	}
	err := p.producer.Produce(ctx, inappevt.Message{
		NotificationID: req.NotificationID,
		DeliveryID:     req.DeliveryID,
		UserID:         req.Recipient,
		Title:          req.Title,
		Content:        req.Content,
		Priority:       string(req.Priority),
		CreatedAt:      p.now().UnixMilli(),
	})
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	return domain.SendResult{ProviderMessageID: req.DeliveryID}, nil
}

func (p *Provider) Configure(cfg domain.ProviderConfig) error {
	p.ApplyEnabled(cfg)
	return nil
}
