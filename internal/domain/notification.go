package domain

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"maps"
	"strconv"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/errs"
)

// NotificationStatus 通知状态
type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "PENDING"    // 待发送
	NotificationStatusProcessing NotificationStatus = "PROCESSING" // 发送中
	NotificationStatusSent       NotificationStatus = "SENT"       // 已发送，渠道已受理
	NotificationStatusDelivered  NotificationStatus = "DELIVERED"  // 已送达
	NotificationStatusFailed     NotificationStatus = "FAILED"     // 发送失败
	NotificationStatusCancelled  NotificationStatus = "CANCELLED"  // 已取消
)

func (s NotificationStatus) String() string {
	return string(s)
}

const (
	DefaultMaxRetries        = 3
	DefaultRecurringInterval = 24 * time.Hour

	MetadataRecurring         = "recurring"
	MetadataRecurringInterval = "recurringInterval"
	MetadataRecurrenceOf      = "recurrenceOf"
	MetadataCancelReason      = "cancelReason"
)

// InvalidStateTransitionError 状态流转非法，errors.Is 可以匹配 errs.ErrInvalidStateTransition
type InvalidStateTransitionError struct {
	Current   string
	Requested string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", errs.ErrInvalidStateTransition.Error(), e.Current, e.Requested)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return errs.ErrInvalidStateTransition
}

func newTransitionError[S ~string](current, requested S) error {
	return &InvalidStateTransitionError{Current: string(current), Requested: string(requested)}
}

// NotificationParams 创建通知使用的参数
type NotificationParams struct {
	UserID     string
	Type       string
	Title      string
	Message    string
	Channels   []Channel
	Priority   Priority
	TemplateID string
	// Variables 渲染模版时使用的参数
	Variables map[string]string
	// Recipients 各渠道的接收地址(邮箱/手机号/设备token/URL)
	Recipients   map[Channel]string
	ScheduledFor time.Time
	ExpiresAt    time.Time
	Metadata     map[string]any
	MaxRetries   int
}

// Notification 通知领域模型。
// 所有状态流转都返回新的值，不在原值上修改
type Notification struct {
	ID         uint64 // 通知唯一标识
	UserID     string
	Type       string
	Title      string
	Message    string
	Channels   []Channel
	Priority   Priority
	TemplateID string
	Variables  map[string]string
	Recipients map[Channel]string

	ScheduledFor time.Time
	ExpiresAt    time.Time
	Metadata     map[string]any

	RetryCount int
	MaxRetries int
	LastError  string
	Status     NotificationStatus

	CreatedAt   time.Time
	UpdatedAt   time.Time
	SentAt      time.Time
	DeliveredAt time.Time
	ReadAt      time.Time

	// Version 版本号，仓储层用于 CAS
	Version int
}

// NewNotification 通知工厂方法
func NewNotification(id uint64, params NotificationParams, now time.Time) (Notification, error) {
	if id == 0 {
		return Notification{}, fmt.Errorf("%w: ID = %d", errs.ErrInvalidParameter, id)
	}
	channels, err := normalizeChannels(params.Channels)
	if err != nil {
		return Notification{}, err
	}
	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.IsValid() {
		return Notification{}, fmt.Errorf("%w: Priority = %q", errs.ErrInvalidParameter, priority)
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return Notification{
		ID:           id,
		UserID:       params.UserID,
		Type:         params.Type,
		Title:        params.Title,
		Message:      params.Message,
		Channels:     channels,
		Priority:     priority,
		TemplateID:   params.TemplateID,
		Variables:    maps.Clone(params.Variables),
		Recipients:   maps.Clone(params.Recipients),
		ScheduledFor: params.ScheduledFor,
		ExpiresAt:    params.ExpiresAt,
		Metadata:     maps.Clone(params.Metadata),
		MaxRetries:   maxRetries,
		Status:       NotificationStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}, nil
}

// normalizeChannels 去重并校验渠道，保持原有顺序
func normalizeChannels(channels []Channel) ([]Channel, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: Channels 不能为空", errs.ErrInvalidParameter)
	}
	seen := make(map[Channel]struct{}, len(channels))
	res := make([]Channel, 0, len(channels))
	for _, c := range channels {
		if !c.IsValid() {
			return nil, fmt.Errorf("%w: Channel = %q", errs.ErrInvalidParameter, c)
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		res = append(res, c)
	}
	return res, nil
}

// clone 深拷贝 map 字段，保证流转后的新值和旧值互不影响
func (n Notification) clone() Notification {
	res := n
	res.Channels = append([]Channel(nil), n.Channels...)
	res.Variables = maps.Clone(n.Variables)
	res.Recipients = maps.Clone(n.Recipients)
	res.Metadata = maps.Clone(n.Metadata)
	return res
}

// IsTerminal 已送达、已取消、重试次数耗尽的失败都是终态
func (n Notification) IsTerminal() bool {
	switch n.Status {
	case NotificationStatusDelivered, NotificationStatusCancelled:
		return true
	case NotificationStatusFailed:
		return n.RetryCount >= n.MaxRetries
	default:
		return false
	}
}

// CanRetry 失败且还有重试额度，调用方可以重新提交
func (n Notification) CanRetry() bool {
	return n.Status == NotificationStatusFailed && n.RetryCount < n.MaxRetries
}

func (n Notification) IsExpired(now time.Time) bool {
	return !n.ExpiresAt.IsZero() && now.After(n.ExpiresAt)
}

// IsScheduled 计划发送时间还没到
func (n Notification) IsScheduled(now time.Time) bool {
	return !n.ScheduledFor.IsZero() && n.ScheduledFor.After(now)
}

// IsDue 计划发送时间已经到了
func (n Notification) IsDue(now time.Time) bool {
	return !n.ScheduledFor.IsZero() && !n.ScheduledFor.After(now)
}

func (n Notification) IsRecent(now time.Time, window time.Duration) bool {
	return now.Sub(n.CreatedAt) <= window
}

// Recipient 获取渠道对应的接收地址，没有配置时使用用户ID
func (n Notification) Recipient(channel Channel) string {
	if addr, ok := n.Recipients[channel]; ok && addr != "" {
		return addr
	}
	return n.UserID
}

func (n Notification) IsRecurring() bool {
	switch v := n.Metadata[MetadataRecurring].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// RecurrenceOf 周期通知某一次发送对应的原通知ID。
// 从数据库读出来的元数据数字是 float64
func (n Notification) RecurrenceOf() (uint64, bool) {
	switch v := n.Metadata[MetadataRecurrenceOf].(type) {
	case uint64:
		return v, true
	case float64:
		return uint64(v), true
	case string:
		id, err := strconv.ParseUint(v, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

// RecurringInterval 周期通知的间隔，支持 "1h" 这种字符串、time.Duration 和秒数
func (n Notification) RecurringInterval() time.Duration {
	var d time.Duration
	switch v := n.Metadata[MetadataRecurringInterval].(type) {
	case time.Duration:
		d = v
	case string:
		d, _ = time.ParseDuration(v)
	case int:
		d = time.Duration(v) * time.Second
	case int64:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	}
	if d <= 0 {
		return DefaultRecurringInterval
	}
	return d
}

// MarkAsProcessing 只能从 PENDING 进入
func (n Notification) MarkAsProcessing(now time.Time) (Notification, error) {
	if n.Status != NotificationStatusPending {
		return n, newTransitionError(n.Status, NotificationStatusProcessing)
	}
	res := n.clone()
	res.Status = NotificationStatusProcessing
	res.UpdatedAt = now
	return res, nil
}

// MarkAsSent 只能从 PROCESSING 进入，SentAt 只设置一次
func (n Notification) MarkAsSent(now time.Time) (Notification, error) {
	if n.Status != NotificationStatusProcessing {
		return n, newTransitionError(n.Status, NotificationStatusSent)
	}
	res := n.clone()
	res.Status = NotificationStatusSent
	if res.SentAt.IsZero() {
		res.SentAt = now
	}
	res.UpdatedAt = now
	return res, nil
}

// MarkAsDelivered 只能从 SENT 进入，DeliveredAt 只设置一次
func (n Notification) MarkAsDelivered(now time.Time) (Notification, error) {
	if n.Status != NotificationStatusSent {
		return n, newTransitionError(n.Status, NotificationStatusDelivered)
	}
	res := n.clone()
	res.Status = NotificationStatusDelivered
	if res.DeliveredAt.IsZero() {
		res.DeliveredAt = now
	}
	res.UpdatedAt = now
	return res, nil
}

// MarkAsFailed 任何非终态都可以失败，每次失败都会消耗一次重试额度。
// 额度耗尽之后 FAILED 就是终态
func (n Notification) MarkAsFailed(reason string, now time.Time) (Notification, error) {
	if n.IsTerminal() {
		return n, newTransitionError(n.Status, NotificationStatusFailed)
	}
	res := n.clone()
	res.Status = NotificationStatusFailed
	if res.RetryCount < res.MaxRetries {
		res.RetryCount++
	}
	res.LastError = reason
	res.UpdatedAt = now
	return res, nil
}

// MarkAsCancelled 只有 PENDING 和 PROCESSING 可以取消
func (n Notification) MarkAsCancelled(now time.Time) (Notification, error) {
	if n.Status != NotificationStatusPending && n.Status != NotificationStatusProcessing {
		return n, newTransitionError(n.Status, NotificationStatusCancelled)
	}
	res := n.clone()
	res.Status = NotificationStatusCancelled
	res.UpdatedAt = now
	return res, nil
}

// MarkAsRead 已读和发送状态无关，ReadAt 只设置一次
func (n Notification) MarkAsRead(now time.Time) Notification {
	if !n.ReadAt.IsZero() {
		return n
	}
	res := n.clone()
	res.ReadAt = now
	res.UpdatedAt = now
	return res
}

// Requeue 失败且还有重试额度时回到 PENDING，重试次数保持不变
func (n Notification) Requeue(now time.Time) (Notification, error) {
	if !n.CanRetry() {
		return n, newTransitionError(n.Status, NotificationStatusPending)
	}
	res := n.clone()
	res.Status = NotificationStatusPending
	res.UpdatedAt = now
	return res, nil
}

// WithSchedule 设置计划发送时间，只有 PENDING 的通知可以调整
func (n Notification) WithSchedule(at, now time.Time) (Notification, error) {
	if n.Status != NotificationStatusPending {
		return n, newTransitionError(n.Status, NotificationStatusPending)
	}
	res := n.clone()
	res.ScheduledFor = at
	res.UpdatedAt = now
	return res, nil
}

// WithMetadata 补充元数据，终态的通知也允许
func (n Notification) WithMetadata(key string, value any, now time.Time) Notification {
	res := n.clone()
	if res.Metadata == nil {
		res.Metadata = make(map[string]any, 1)
	}
	res.Metadata[key] = value
	res.UpdatedAt = now
	return res
}

// OccurrenceID 周期通知某一次发送的ID，由原通知ID和这一次的计划时间决定，
// 不同实例分发同一次发送得到同一个ID。最高位是 1，sonyflake 生成的ID最高位是 0
func OccurrenceID(parentID uint64, slot time.Time) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], parentID)
	binary.BigEndian.PutUint64(buf[8:], uint64(slot.UnixMilli()))
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	return h.Sum64() | 1<<63
}

// Occurrence 周期通知的一次发送，使用新的ID，状态和重试都从头开始
func (n Notification) Occurrence(id uint64, now time.Time) Notification {
	res := n.clone()
	res.ID = id
	res.Status = NotificationStatusPending
	res.RetryCount = 0
	res.LastError = ""
	res.CreatedAt, res.UpdatedAt = now, now
	res.SentAt, res.DeliveredAt, res.ReadAt = time.Time{}, time.Time{}, time.Time{}
	res.Version = 1
	if res.Metadata == nil {
		res.Metadata = make(map[string]any, 1)
	}
	delete(res.Metadata, MetadataRecurring)
	delete(res.Metadata, MetadataRecurringInterval)
	res.Metadata[MetadataRecurrenceOf] = n.ID
	return res
}
