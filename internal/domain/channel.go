package domain

// Channel 通知渠道
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"   // 邮件
	ChannelSMS     Channel = "SMS"     // 短信
	ChannelPush    Channel = "PUSH"    // 推送
	ChannelInApp   Channel = "IN_APP"  // 站内信
	ChannelWebhook Channel = "WEBHOOK" // 回调
)

func (c Channel) String() string {
	return string(c)
}

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp, ChannelWebhook:
		return true
	default:
		return false
	}
}

// Priority 通知优先级
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}
