package provider

import (
	"errors"
	"fmt"
	"sync/atomic"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
)

var ErrProviderDisabled = errors.New("供应商已禁用")

// Base 各个供应商共用的名称、渠道和启用状态
type Base struct {
	name    string
	channel domain.Channel
	enabled atomic.Bool
}

func NewBase(name string, channel domain.Channel) *Base {
	b := &Base{name: name, channel: channel}
	b.enabled.Store(true)
	return b
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Channel() domain.Channel {
	return b.channel
}

func (b *Base) Enabled() bool {
	return b.enabled.Load()
}

// ApplyEnabled 读取配置里的 enabled
func (b *Base) ApplyEnabled(cfg domain.ProviderConfig) {
	b.enabled.Store(cfg.Enabled())
}

// CheckEnabled 禁用时返回 ErrProviderDisabled
func (b *Base) CheckEnabled() error {
	if !b.Enabled() {
		return fmt.Errorf("%w: %s", ErrProviderDisabled, b.name)
	}
	return nil
}

// Failure 把发送错误包装成 errs.ErrProviderDeliveryFailure
func (b *Base) Failure(err error) error {
	if errors.Is(err, errs.ErrProviderDeliveryFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", errs.ErrProviderDeliveryFailure, b.name, err)
}
