package ioc

import (
	"time"

	"gitee.com/flycash/notification-dispatch/internal/event/delivery"
	"gitee.com/flycash/notification-dispatch/internal/pkg/clock"
	"gitee.com/flycash/notification-dispatch/internal/repository"
	"gitee.com/flycash/notification-dispatch/internal/service/channel"
	"gitee.com/flycash/notification-dispatch/internal/service/notification"
	"gitee.com/flycash/notification-dispatch/internal/service/scheduler"
	"gitee.com/flycash/notification-dispatch/internal/service/sender"
	"gitee.com/flycash/notification-dispatch/internal/service/template"
	"github.com/gotomicro/ego/core/econf"
	"github.com/redis/go-redis/v9"
)

type schedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Distributed 多实例部署，只有持有分布式锁的实例扫描，分发标记放在 redis
	Distributed bool          `yaml:"distributed"`
	GateTTL     time.Duration `yaml:"gateTtl"`
	// RecoverInterval 持锁实例从数据库恢复计划通知的间隔
	RecoverInterval time.Duration `yaml:"recoverInterval"`
}

func loadSchedulerConfig() schedulerConfig {
	var cfg schedulerConfig
	if err := econf.UnmarshalKey("scheduler", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func InitClock() clock.Clock {
	return clock.RealClock{}
}

func InitSenderConfig() sender.Config {
	var cfg sender.Config
	if err := econf.UnmarshalKey("sender", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

// InitNotificationSender 发送器外面套一层链路追踪
func InitNotificationSender(router *channel.Router, renderer *template.Renderer,
	repo repository.NotificationRepository, deliveryRepo repository.DeliveryRepository,
	producer delivery.Producer, clk clock.Clock, cfg sender.Config,
) sender.NotificationSender {
	return sender.NewObservabilitySender(
		sender.NewSender(router, renderer, repo, deliveryRepo, producer, clk, cfg))
}

func InitRenderer() *template.Renderer {
	var templates []template.Template
	if err := econf.UnmarshalKey("templates", &templates); err != nil {
		panic(err)
	}
	return template.NewRenderer(templates...)
}

// InitScheduler 调度器和通知服务互相依赖，在这里完成注入
func InitScheduler(svc *notification.Service, clk clock.Clock, rdb redis.Cmdable) *scheduler.Scheduler {
	cfg := loadSchedulerConfig()
	opts := []scheduler.Option{scheduler.WithInterval(cfg.Interval)}
	if cfg.Distributed {
		opts = append(opts, scheduler.WithGate(scheduler.NewRedisGate(rdb, cfg.GateTTL)))
	}
	s := scheduler.NewScheduler(svc, clk, opts...)
	svc.SetScheduler(s, cfg.Distributed)
	return s
}
