package errs

import (
	"errors"
)

// 定义统一的错误类型
var (
	ErrInvalidParameter            = errors.New("参数错误")
	ErrInvalidStateTransition      = errors.New("非法的状态流转")
	ErrNotificationNotFound        = errors.New("通知记录不存在")
	ErrNotificationDuplicate       = errors.New("通知记录主键冲突")
	ErrNotificationVersionMismatch = errors.New("通知记录版本不匹配")
	ErrNotificationExpired         = errors.New("通知已过期")
	ErrDeliveryNotFound            = errors.New("投递记录不存在")

	ErrNoAvailableProvider = errors.New("无可用供应商")
	ErrProviderNotFound    = errors.New("供应商记录不存在")

	// ErrProviderTimeout 与 ErrProviderDeliveryFailure 只会记录在投递记录上，不会越过调度边界
	ErrProviderTimeout         = errors.New("供应商发送超时")
	ErrProviderDeliveryFailure = errors.New("供应商发送失败")

	ErrInvalidSchedule = errors.New("非法的计划发送时间")
	ErrTemplateRender  = errors.New("模板渲染失败")
)
