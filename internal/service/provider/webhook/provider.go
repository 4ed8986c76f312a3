package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/pkg/httpx"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
)

const (
	ConfigSecret = "secret"
	// OptionHeaderPrefix "header.X-Foo" 形式的参数会作为请求头
	OptionHeaderPrefix = "header."

	HeaderSignature = "X-Signature"
	HeaderDelivery  = "X-Delivery-Id"
	HeaderRequestID = "X-Request-Id"
)

// Doer httpx.Client 满足这个接口。熔断按回调地址的 host 区分，
// 一个租户的地址熔断不影响其他租户
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
	AvailableFor(host string) bool
}

// Payload 回调的请求体
type Payload struct {
	NotificationID uint64 `json:"notificationId"`
	DeliveryID     string `json:"deliveryId"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Priority       string `json:"priority"`
	Timestamp      int64  `json:"timestamp"`
}

var _ provider.Provider = (*Provider)(nil)

// Provider 把通知 POST 到接收地址，请求体用 HMAC-SHA256 签名
type Provider struct {
	*provider.Base
	client Doer
	now    func() time.Time

	mu     sync.RWMutex
	secret string
}

func NewProvider(name string, client Doer, cfg domain.ProviderConfig) (*Provider, error) {
	p := &Provider{
		Base:   provider.NewBase(name, domain.ChannelWebhook),
		client: client,
		now:    time.Now,
	}
	if err := p.Configure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// IsAvailable 熔断只影响对应的回调地址，不影响供应商整体
func (p *Provider) IsAvailable() bool {
	return p.Enabled()
}

func (p *Provider) HealthCheck(_ context.Context) error {
	return p.CheckEnabled()
}

func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	if err := p.CheckEnabled(); err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	target, err := url.Parse(req.Recipient)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return domain.SendResult{}, p.Failure(fmt.Errorf("%w: 回调地址 %q 非法", errs.ErrInvalidParameter, req.Recipient))
	}

	if !p.client.AvailableFor(target.Host) {
		return domain.SendResult{}, p.Failure(fmt.Errorf("%w: %s", httpx.ErrCircuitOpen, target.Host))
	}

	now := p.now()
	body, err := json.Marshal(Payload{
		NotificationID: req.NotificationID,
		DeliveryID:     req.DeliveryID,
		Title:          req.Title,
		Content:        req.Content,
		Priority:       string(req.Priority),
		Timestamp:      now.Unix(),
	})
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	for k, v := range req.Options {
		if name, ok := strings.CutPrefix(k, OptionHeaderPrefix); ok && name != "" {
			httpReq.Header.Set(name, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderDelivery, req.DeliveryID)
	p.mu.RLock()
	httpReq.Header.Set(HeaderSignature, Sign(body, p.secret, now))
	p.mu.RUnlock()

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.SendResult{}, p.Failure(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return domain.SendResult{}, p.Failure(fmt.Errorf("回调返回 %d", resp.StatusCode))
	}
	id := resp.Header.Get(HeaderRequestID)
	if id == "" {
		id = req.DeliveryID
	}
	return domain.SendResult{ProviderMessageID: id}, nil
}

func (p *Provider) Configure(cfg domain.ProviderConfig) error {
	secret := cfg.String(ConfigSecret)
	if secret == "" {
		return fmt.Errorf("%w: webhook 供应商 %s 缺少 %s", errs.ErrInvalidParameter, p.Name(), ConfigSecret)
	}
	p.mu.Lock()
	p.secret = secret
	p.mu.Unlock()
	p.ApplyEnabled(cfg)
	return nil
}

// Sign 签名内容是 "{unix秒}.{请求体}"，返回 "t=<unix秒>,v1=<hex>"
func Sign(body []byte, secret string, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify 接收方校验签名，tolerance 是允许的时间偏差
func Verify(body []byte, header, secret string, now time.Time, tolerance time.Duration) bool {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sig == "" {
		return false
	}
	signedAt := time.Unix(sec, 0)
	if now.Sub(signedAt) > tolerance || signedAt.Sub(now) > tolerance {
		return false
	}
	expected := Sign(body, secret, signedAt)
	return hmac.Equal([]byte(expected), []byte("t="+ts+",v1="+sig))
}
