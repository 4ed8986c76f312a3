package email

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"github.com/mrz1836/postmark"
)

const (
	ConfigFrom    = "from"
	ConfigReplyTo = "replyTo"
	ConfigStream  = "messageStream"
	// OptionTag 邮件标签，方便在 postmark 后台统计
	OptionTag = "tag"
)

// Client postmark.Client 满足这个接口
type Client interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
	GetCurrentServer(ctx context.Context) (postmark.Server, error)
}

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	*provider.Base
	client Client

	mu      sync.RWMutex
	from    string
	replyTo string
	stream  string
}

// NewPostmarkProvider serverToken 用于发送，accountToken 用于管理接口
func NewPostmarkProvider(name, serverToken, accountToken string, cfg domain.ProviderConfig) (*Provider, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: postmark serverToken 不能为空", errs.ErrInvalidParameter)
	}
	return NewProvider(name, postmark.NewClient(serverToken, accountToken), cfg)
}

func NewProvider(name string, c Client, cfg domain.ProviderConfig) (*Provider, error) {
	p := &Provider{
		Base:   provider.NewBase(name, domain.ChannelEmail),
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

func (p *Provider) HealthCheck(ctx context.Context) error {
	if err := p.CheckEnabled(); err != nil {
		return err
	}
	if _, err := p.client.GetCurrentServer(ctx); err != nil {
		return fmt.Errorf("postmark 探活失败: %w", err)
	}
	return nil
}

func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	if err := p.CheckEnabled(); err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	if req.Recipient == "" || !strings.Contains(req.Recipient, "@") {
		return domain.SendResult{}, p.Failure(fmt.Errorf("%w: 邮箱地址 %q 非法", errs.ErrInvalidParameter, req.Recipient))
	}

	p.mu.RLock()
	email := postmark.Email{
		From:          p.from,
		ReplyTo:       p.replyTo,
		MessageStream: p.stream,
	}
	p.mu.RUnlock()
	email.To = req.Recipient
	email.Subject = req.Title
	email.Tag = req.Options[OptionTag]
	email.Metadata = map[string]string{
		"notificationId": fmt.Sprintf("%d", req.NotificationID),
		"deliveryId":     req.DeliveryID,
	}
	if isHTML(req.Content) {
		email.HTMLBody = req.Content
		email.TrackOpens = true
		email.TrackLinks = "HtmlOnly"
	} else {
		email.TextBody = req.Content
	}

	resp, err := p.client.SendEmail(ctx, email)
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	if resp.ErrorCode > 0 {
		return domain.SendResult{}, p.Failure(fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return domain.SendResult{ProviderMessageID: resp.MessageID}, nil
}

func (p *Provider) Configure(cfg domain.ProviderConfig) error {
	from := cfg.String(ConfigFrom)
	if !strings.Contains(from, "@") {
		return fmt.Errorf("%w: 邮件供应商 %s 的发件人 %q 非法", errs.ErrInvalidParameter, p.Name(), from)
	}
	p.mu.Lock()
	p.from = from
	p.replyTo = cfg.String(ConfigReplyTo)
	p.stream = cfg.String(ConfigStream)
	p.mu.Unlock()
	p.ApplyEnabled(cfg)
	return nil
}

func isHTML(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "<")
}
