package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/errs"
	pkgdao "gitee.com/flycash/notification-dispatch/internal/pkg/dao"
	"github.com/ego-component/egorm"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const statusPending = "PENDING"

type NotificationDAO interface {
	Create(ctx context.Context, data Notification) (Notification, error)
	// Update 按版本号更新，成功之后版本号加一
	Update(ctx context.Context, data Notification) (Notification, error)
	GetByID(ctx context.Context, id uint64) (Notification, error)
	// ListByUserID 按创建时间倒序
	ListByUserID(ctx context.Context, userID string, offset, limit int) ([]Notification, error)
	ListByStatus(ctx context.Context, status string, afterID uint64, limit int) ([]Notification, error)
	// ListDue 计划发送时间在 [start, end] 之间还没有发送的通知
	ListDue(ctx context.Context, start, end int64, limit int) ([]Notification, error)
}

// Notification 通知记录表
type Notification struct {
	ID           uint64      `gorm:"primaryKey;comment:'雪花算法ID'"`
	UserID       string      `gorm:"type:VARCHAR(128);NOT NULL;index:idx_user_id_ctime,priority:1;comment:'用户ID'"`
	Type         string      `gorm:"type:VARCHAR(64);NOT NULL;comment:'通知类型'"`
	Title        string      `gorm:"type:VARCHAR(512);NOT NULL;comment:'标题'"`
	Message      string      `gorm:"type:TEXT;NOT NULL;comment:'正文'"`
	Channels     pkgdao.JSON `gorm:"type:JSON;NOT NULL;comment:'发送渠道，JSON数组'"`
	Priority     string      `gorm:"type:ENUM('LOW','NORMAL','HIGH','URGENT');NOT NULL;DEFAULT:'NORMAL';comment:'优先级'"`
	TemplateID   string      `gorm:"type:VARCHAR(128);comment:'模版ID'"`
	Variables    pkgdao.JSON `gorm:"type:JSON;comment:'模版参数'"`
	Recipients   pkgdao.JSON `gorm:"type:JSON;comment:'各渠道的接收地址'"`
	Metadata     pkgdao.JSON `gorm:"type:JSON;comment:'元数据'"`
	ScheduledFor int64       `gorm:"index:idx_status_scheduled_for,priority:2;comment:'计划发送时间，毫秒'"`
	ExpiresAt    int64       `gorm:"comment:'过期时间，毫秒'"`
	RetryCount   int         `gorm:"type:TINYINT;NOT NULL;DEFAULT:0;comment:'已重试次数'"`
	MaxRetries   int         `gorm:"type:TINYINT;NOT NULL;DEFAULT:3;comment:'最大重试次数'"`
	LastError    string      `gorm:"type:TEXT;comment:'最近一次失败原因'"`
	Status       string      `gorm:"type:ENUM('PENDING','PROCESSING','SENT','DELIVERED','FAILED','CANCELLED');NOT NULL;DEFAULT:'PENDING';index:idx_status_scheduled_for,priority:1;comment:'发送状态'"`
	SentAt       int64
	DeliveredAt  int64
	ReadAt       int64
	Version      int         `gorm:"type:INT;NOT NULL;DEFAULT:1;comment:'版本号，用于CAS操作'"`
	Ctime        int64       `gorm:"index:idx_user_id_ctime,priority:2"`
	Utime        int64
}

type notificationDAO struct {
	db *egorm.Component
}

// NewNotificationDAO 创建通知DAO实例
func NewNotificationDAO(db *egorm.Component) NotificationDAO {
	return &notificationDAO{
		db: db,
	}
}

func (d *notificationDAO) Create(ctx context.Context, data Notification) (Notification, error) {
	now := time.Now().UnixMilli()
	if data.Ctime == 0 {
		data.Ctime = now
	}
	data.Utime = now
	data.Version = 1
	err := d.db.WithContext(ctx).Create(&data).Error
	if err != nil {
		if isUniqueConstraintError(err) {
			return Notification{}, fmt.Errorf("%w: id=%d", errs.ErrNotificationDuplicate, data.ID)
		}
		return Notification{}, err
	}
	return data, nil
}

// isUniqueConstraintError 检查是否是唯一索引冲突错误
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	me := new(mysql.MySQLError)
	if ok := errors.As(err, &me); ok {
		const uniqueIndexErrNo uint16 = 1062
		return me.Number == uniqueIndexErrNo
	}
	return false
}

func (d *notificationDAO) Update(ctx context.Context, data Notification) (Notification, error) {
	data.Utime = time.Now().UnixMilli()
	result := d.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND version = ?", data.ID, data.Version).
		Updates(map[string]any{
			"title":         data.Title,
			"message":       data.Message,
			"metadata":      data.Metadata,
			"scheduled_for": data.ScheduledFor,
			"retry_count":   data.RetryCount,
			"last_error":    data.LastError,
			"status":        data.Status,
			"sent_at":       data.SentAt,
			"delivered_at":  data.DeliveredAt,
			"read_at":       data.ReadAt,
			"version":       gorm.Expr("version + 1"),
			"utime":         data.Utime,
		})
	if result.Error != nil {
		return Notification{}, result.Error
	}
	if result.RowsAffected < 1 {
		return Notification{}, fmt.Errorf("并发竞争失败 %w, id %d", errs.ErrNotificationVersionMismatch, data.ID)
	}
	data.Version++
	return data, nil
}

// GetByID 根据ID查询通知
func (d *notificationDAO) GetByID(ctx context.Context, id uint64) (Notification, error) {
	var notification Notification
	err := d.db.WithContext(ctx).First(&notification, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Notification{}, fmt.Errorf("%w: id=%d", errs.ErrNotificationNotFound, id)
		}
		return Notification{}, err
	}
	return notification, nil
}

func (d *notificationDAO) ListByUserID(ctx context.Context, userID string, offset, limit int) ([]Notification, error) {
	var res []Notification
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("ctime DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (d *notificationDAO) ListByStatus(ctx context.Context, status string, afterID uint64, limit int) ([]Notification, error) {
	var res []Notification
	err := d.db.WithContext(ctx).
		Where("status = ? AND id > ?", status, afterID).
		Order("id").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (d *notificationDAO) ListDue(ctx context.Context, start, end int64, limit int) ([]Notification, error) {
	var res []Notification
	err := d.db.WithContext(ctx).
		Where("status = ? AND scheduled_for >= ? AND scheduled_for <= ?", statusPending, start, end).
		Order("scheduled_for").
		Limit(limit).
		Find(&res).Error
	return res, err
}
