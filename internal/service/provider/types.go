package provider

import (
	"context"

	"gitee.com/flycash/notification-dispatch/internal/domain"
)

// Provider 供应商接口，每个渠道有各自的实现
//
//go:generate mockgen -source=./types.go -destination=./mocks/provider.mock.go -package=providermocks Provider
type Provider interface {
	// Name 供应商名称，全局唯一
	Name() string
	// Channel 支持的渠道
	Channel() domain.Channel
	// IsAvailable 是否可用，不能有 I/O，调用方会频繁调用
	IsAvailable() bool
	// HealthCheck 主动探测供应商是否健康
	HealthCheck(ctx context.Context) error
	// Send 发送消息。普通的发送失败返回包装了 errs.ErrProviderDeliveryFailure 的错误
	Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error)
	// Configure 更新配置
	Configure(cfg domain.ProviderConfig) error
}
