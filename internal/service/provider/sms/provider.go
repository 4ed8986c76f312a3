package sms

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/sms/client"
)

const (
	ConfigSignName   = "signName"
	ConfigTemplateID = "templateId"
	// OptionTemplateID 单条通知可以指定短信模版
	OptionTemplateID = "templateId"
)

var _ provider.Provider = (*Provider)(nil)

// Provider 短信供应商，阿里云和腾讯云共用，差别在 client
type Provider struct {
	*provider.Base
	client client.Client

	mu         sync.RWMutex
	signName   string
	templateID string
}

func NewProvider(name string, c client.Client, cfg domain.ProviderConfig) (*Provider, error) {
	p := &Provider{
		Base:   provider.NewBase(name, domain.ChannelSMS),
		client: c,
	}
	if err := p.Configure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) IsAvailable() bool {
	return p.Enabled()
}

// HealthCheck 短信平台没有探活接口，只检查配置
func (p *Provider) HealthCheck(_ context.Context) error {
	return p.CheckEnabled()
}

// Send 发送短信，多个手机号用逗号分隔
func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	if err := p.CheckEnabled(); err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	phones := strings.Split(req.Recipient, ",")
	if req.Recipient == "" {
		return domain.SendResult{}, p.Failure(fmt.Errorf("%w: 手机号码不能为空", errs.ErrInvalidParameter))
	}

	p.mu.RLock()
	signName, templateID := p.signName, p.templateID
	p.mu.RUnlock()
	if tid := req.Options[OptionTemplateID]; tid != "" {
		templateID = tid
	}

	resp, err := p.client.Send(ctx, client.SendReq{
		PhoneNumbers: phones,
		SignName:     signName,
		TemplateID:   templateID,
		TemplateParam: map[string]string{
			"title":   req.Title,
			"content": req.Content,
		},
		TemplateParamSet: []string{req.Content},
	})
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}

	for phone, status := range resp.PhoneNumbers {
		if status.Code != client.OK {
			return domain.SendResult{}, p.Failure(fmt.Errorf("%s: Code = %s, Message = %s", phone, status.Code, status.Message))
		}
	}

	id := resp.BizID
	if id == "" {
		id = resp.RequestID
	}
	return domain.SendResult{ProviderMessageID: id}, nil
}

func (p *Provider) Configure(cfg domain.ProviderConfig) error {
	signName, templateID := cfg.String(ConfigSignName), cfg.String(ConfigTemplateID)
	if signName == "" || templateID == "" {
		return fmt.Errorf("%w: 短信供应商 %s 缺少 %s 或 %s", errs.ErrInvalidParameter, p.Name(), ConfigSignName, ConfigTemplateID)
	}
	p.mu.Lock()
	p.signName, p.templateID = signName, templateID
	p.mu.Unlock()
	p.ApplyEnabled(cfg)
	return nil
}
