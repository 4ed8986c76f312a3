package ioc

import (
	"fmt"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/pkg/httpx"
	"gitee.com/flycash/notification-dispatch/internal/pkg/ratelimit"
	"gitee.com/flycash/notification-dispatch/internal/pkg/retry"
	"gitee.com/flycash/notification-dispatch/internal/service/channel"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/email"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/health"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/inapp"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/metrics"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/push"
	ratelimitprovider "gitee.com/flycash/notification-dispatch/internal/service/provider/ratelimit"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/registry"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/sms"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/sms/client"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/tracing"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/webhook"
	"github.com/gotomicro/ego/core/econf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	providerTypePostmark = "postmark"
	providerTypeSMS      = "sms"
	providerTypePush     = "push"
	providerTypeWebhook  = "webhook"
	providerTypeInApp    = "inapp"

	configSMSClient    = "client"
	configServerToken  = "serverToken"
	configAccountToken = "accountToken"
)

type providerConfig struct {
	Name      string                `yaml:"name"`
	Type      string                `yaml:"type"`
	Channel   string                `yaml:"channel"`
	Priority  int                   `yaml:"priority"`
	Fallback  string                `yaml:"fallback"`
	Config    domain.ProviderConfig `yaml:"config"`
	// Retry 只对 HTTP 类的供应商生效
	Retry     retry.Config          `yaml:"retry"`
	RateLimit rateLimitConfig       `yaml:"rateLimit"`
}

// rateLimitConfig Rate 为 0 表示不限流
type rateLimitConfig struct {
	Interval time.Duration `yaml:"interval"`
	Rate     int           `yaml:"rate"`
}

type healthConfig struct {
	Window      int           `yaml:"window"`
	FailPercent float64       `yaml:"failPercent"`
	// Backoff 探测失败之后多久再探测
	Backoff     time.Duration `yaml:"backoff"`
}

// Providers 供应商相关的组件
type Providers struct {
	Registry *registry.Registry
	Router   *channel.Router
	Monitor  *health.Monitor
}

// InitProviders 由内到外依次是限流、tracing、metrics、health 装饰器
func InitProviders(smsClients map[string]client.Client, events Events, rdb redis.Cmdable) Providers {
	var cfgs []providerConfig
	if err := econf.UnmarshalKey("providers", &cfgs); err != nil {
		panic(err)
	}
	var hc healthConfig
	if err := econf.UnmarshalKey("health", &hc); err != nil {
		panic(err)
	}
	collectors, err := metrics.NewCollectors(prometheus.DefaultRegisterer)
	if err != nil {
		panic(err)
	}

	reg := registry.NewRegistry()
	monitor := health.NewMonitor(hc.Backoff)
	descriptors := make([]domain.ProviderDescriptor, 0, len(cfgs))
	for _, c := range cfgs {
		raw, err := newProvider(c, smsClients, events)
		if err != nil {
			panic(fmt.Errorf("初始化供应商 %s 失败: %w", c.Name, err))
		}
		if c.RateLimit.Rate > 0 {
			limiter := ratelimit.NewRedisSlidingWindowLimiter(rdb, c.RateLimit.Interval, c.RateLimit.Rate)
			raw = ratelimitprovider.NewProvider(raw, limiter)
		}
		var opts []health.Option
		if hc.Window > 0 {
			opts = append(opts, health.WithWindow(hc.Window))
		}
		if hc.FailPercent > 0 {
			opts = append(opts, health.WithFailPercent(hc.FailPercent))
		}
		p := health.NewProvider(metrics.NewProvider(tracing.NewProvider(raw), collectors), opts...)
		if err = reg.Register(p); err != nil {
			panic(err)
		}
		monitor.Add(p)
		descriptors = append(descriptors, domain.ProviderDescriptor{
			Name:     c.Name,
			Channel:  domain.Channel(c.Channel),
			Priority: c.Priority,
			Config:   c.Config,
		})
	}

	router := channel.NewRouter(reg)
	if err = router.LoadRoutes(descriptors); err != nil {
		panic(err)
	}
	for _, c := range cfgs {
		if c.Fallback == "" {
			continue
		}
		if err = router.SetFallback(domain.Channel(c.Channel), c.Name, c.Fallback); err != nil {
			panic(err)
		}
	}
	return Providers{
		Registry: reg,
		Router:   router,
		Monitor:  monitor,
	}
}

func newProvider(c providerConfig, smsClients map[string]client.Client, events Events) (provider.Provider, error) {
	if !domain.Channel(c.Channel).IsValid() {
		return nil, fmt.Errorf("未知的渠道 %s", c.Channel)
	}
	switch c.Type {
	case providerTypePostmark:
		return email.NewPostmarkProvider(c.Name, c.Config.String(configServerToken),
			c.Config.String(configAccountToken), c.Config)
	case providerTypeSMS:
		cli, ok := smsClients[c.Config.String(configSMSClient)]
		if !ok {
			return nil, fmt.Errorf("短信客户端 %s 没有配置", c.Config.String(configSMSClient))
		}
		return sms.NewProvider(c.Name, cli, c.Config)
	case providerTypePush:
		hc, err := httpx.NewClient(c.Name, httpx.WithRetry(c.Retry))
		if err != nil {
			return nil, err
		}
		return push.NewProvider(c.Name, hc, c.Config)
	case providerTypeWebhook:
		hc, err := httpx.NewClient(c.Name, httpx.WithRetry(c.Retry))
		if err != nil {
			return nil, err
		}
		return webhook.NewProvider(c.Name, hc, c.Config)
	case providerTypeInApp:
		return inapp.NewProvider(c.Name, events.InApp, c.Config)
	default:
		return nil, fmt.Errorf("未知的供应商类型 %s", c.Type)
	}
}
