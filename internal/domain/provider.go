package domain

import (
	"strconv"
	"time"
)

const ProviderConfigEnabled = "enabled"

// ProviderConfig 供应商配置，enabled 控制是否启用，其余字段由各个供应商自行解释
type ProviderConfig map[string]any

// Enabled 没有配置时默认启用
func (c ProviderConfig) Enabled() bool {
	switch v := c[ProviderConfigEnabled].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err != nil || b
	default:
		return true
	}
}

func (c ProviderConfig) String(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c ProviderConfig) Duration(key string, def time.Duration) time.Duration {
	switch v := c[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// ProviderDescriptor 供应商注册信息
type ProviderDescriptor struct {
	Name    string // 唯一
	Channel Channel
	// Priority 数字越小越优先，0 表示禁用
	Priority int
	Config   ProviderConfig
}

// SendRequest 交给供应商的发送参数，内容已经渲染完毕
type SendRequest struct {
	NotificationID uint64
	DeliveryID     string
	Channel        Channel
	Recipient      string
	Title          string
	Content        string
	Priority       Priority
	// Options 渠道相关的参数，比如推送的设备token、媒体URL、回调的请求头
	Options map[string]string
}

// SendResult 供应商受理结果
type SendResult struct {
	ProviderMessageID string
}
