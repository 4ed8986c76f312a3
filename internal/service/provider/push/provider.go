package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
)

const (
	ConfigEndpoint    = "endpoint"
	ConfigAccessToken = "accessToken"
	// OptionDeviceToken 优先于接收地址
	OptionDeviceToken = "deviceToken"
	OptionImage       = "image"
)

// Doer httpx.Client 满足这个接口
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
	Available() bool
}

// 推送网关的请求格式，和 FCM HTTP v1 一致
type (
	request struct {
		Message message `json:"message"`
	}
	message struct {
		Token        string            `json:"token"`
		Notification notification      `json:"notification"`
		Data         map[string]string `json:"data,omitempty"`
		Android      *android          `json:"android,omitempty"`
	}
	notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Image string `json:"image,omitempty"`
	}
	android struct {
		Priority string `json:"priority"`
	}
	response struct {
		Name  string `json:"name"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error,omitempty"`
	}
)

var _ provider.Provider = (*Provider)(nil)

type Provider struct {
	*provider.Base
	client Doer

	mu          sync.RWMutex
	endpoint    string
	accessToken string
}

func NewProvider(name string, client Doer, cfg domain.ProviderConfig) (*Provider, error) {
	p := &Provider{
		Base:   provider.NewBase(name, domain.ChannelPush),
		client: client,
	}
	if err := p.Configure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) IsAvailable() bool {
	return p.Enabled() && p.client.Available()
}

func (p *Provider) HealthCheck(_ context.Context) error {
	if err := p.CheckEnabled(); err != nil {
		return err
	}
	if !p.client.Available() {
		return fmt.Errorf("推送供应商 %s 熔断中", p.Name())
	}
	return nil
}

func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	if err := p.CheckEnabled(); err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	token := req.Options[OptionDeviceToken]
	if token == "" {
		token = req.Recipient
	}
	if token == "" {
		return domain.SendResult{}, p.Failure(fmt.Errorf("%w: 设备token不能为空", errs.ErrInvalidParameter))
	}

	msg := message{
		Token: token,
		Notification: notification{
			Title: req.Title,
			Body:  req.Content,
			Image: req.Options[OptionImage],
		},
		Data: map[string]string{
			"notificationId": strconv.FormatUint(req.NotificationID, 10),
			"deliveryId":     req.DeliveryID,
		},
	}
	if req.Priority == domain.PriorityHigh || req.Priority == domain.PriorityUrgent {
		msg.Android = &android{Priority: "high"}
	}
	body, err := json.Marshal(request{Message: msg})
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}

	p.mu.RLock()
	endpoint, accessToken := p.endpoint, p.accessToken
	p.mu.RUnlock()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	defer resp.Body.Close()

	var res response
	if err = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil && resp.StatusCode == http.StatusOK {
		return domain.SendResult{}, p.Failure(fmt.Errorf("解析推送网关响应失败: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		if res.Error != nil {
			return domain.SendResult{}, p.Failure(fmt.Errorf("推送网关返回 %d: %s %s", resp.StatusCode, res.Error.Status, res.Error.Message))
		}
		return domain.SendResult{}, p.Failure(fmt.Errorf("推送网关返回 %d", resp.StatusCode))
	}
	return domain.SendResult{ProviderMessageID: res.Name}, nil
}

func (p *Provider) Configure(cfg domain.ProviderConfig) error {
	endpoint := cfg.String(ConfigEndpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: 推送供应商 %s 缺少 %s", errs.ErrInvalidParameter, p.Name(), ConfigEndpoint)
	}
	p.mu.Lock()
	p.endpoint = endpoint
	p.accessToken = cfg.String(ConfigAccessToken)
	p.mu.Unlock()
	p.ApplyEnabled(cfg)
	return nil
}
