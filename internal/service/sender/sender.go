package sender

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/event/delivery"
	"gitee.com/flycash/notification-dispatch/internal/pkg/clock"
	"gitee.com/flycash/notification-dispatch/internal/repository"
	"gitee.com/flycash/notification-dispatch/internal/service/channel"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"github.com/google/uuid"
	"github.com/gotomicro/ego/core/elog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	defaultConcurrency = 64
	defaultSendTimeout = 10 * time.Second

	// MetadataFallbackProvider 通知指定的备用供应商
	MetadataFallbackProvider = "fallbackProvider"
	cancelReasonExpired      = "expired"
)

// NotificationSender 通知发送接口
type NotificationSender interface {
	// Send 把一条 PENDING 的通知发送到它的全部渠道，返回发送之后的通知。
	// 供应商的错误记录在投递记录和 LastError 上，不会返回
	Send(ctx context.Context, n domain.Notification) (domain.Notification, error)
	// Resubmit 重新提交失败的通知，已经成功的渠道不会重复发送
	Resubmit(ctx context.Context, id uint64) (domain.Notification, error)
	// ConfirmDelivery 处理渠道回执
	ConfirmDelivery(ctx context.Context, deliveryID string) (domain.Delivery, error)
}

// Router 为渠道选择供应商
type Router interface {
	Route(ctx context.Context, ch domain.Channel, params channel.RouteParams) (provider.Provider, error)
}

// Renderer 渲染标题和正文
type Renderer interface {
	RenderNotification(n domain.Notification, ch domain.Channel) (string, string, error)
}

type Config struct {
	// Concurrency 整个进程同时在发送的渠道数量
	Concurrency int64         `yaml:"concurrency"`
	SendTimeout time.Duration `yaml:"sendTimeout"`
}

// sender 通知发送器实现
type sender struct {
	router       Router
	renderer     Renderer
	repo         repository.NotificationRepository
	deliveryRepo repository.DeliveryRepository
	producer     delivery.Producer
	clock        clock.Clock

	sem         *semaphore.Weighted
	sendTimeout time.Duration
	logger      *elog.Component
}

// NewSender 创建通知发送器
func NewSender(
	router Router,
	renderer Renderer,
	repo repository.NotificationRepository,
	deliveryRepo repository.DeliveryRepository,
	producer delivery.Producer,
	clk clock.Clock,
	cfg Config,
) NotificationSender {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &sender{
		router:       router,
		renderer:     renderer,
		repo:         repo,
		deliveryRepo: deliveryRepo,
		producer:     producer,
		clock:        clk,
		sem:          semaphore.NewWeighted(cfg.Concurrency),
		sendTimeout:  cfg.SendTimeout,
		logger:       elog.DefaultLogger,
	}
}

// channelResult 单个渠道的发送结果
type channelResult struct {
	channel domain.Channel
	ok      bool
	err     error
	// surface 需要返回给调用方的错误，比如渠道没有配置供应商
	surface bool
}

func (s *sender) Send(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	now := s.clock.Now()
	if n.IsExpired(now) {
		return s.cancelExpired(ctx, n, now)
	}

	processing, err := n.MarkAsProcessing(now)
	if err != nil {
		return n, err
	}
	processing, err = s.repo.Update(ctx, processing)
	if err != nil {
		return n, fmt.Errorf("更新通知状态失败: %w", err)
	}

	prior, err := s.deliveryRepo.ListByNotificationID(ctx, processing.ID)
	if err != nil {
		return processing, fmt.Errorf("查询投递记录失败: %w", err)
	}
	attempts := make(map[domain.Channel]int, len(processing.Channels))
	done := make(map[domain.Channel]bool, len(processing.Channels))
	for _, d := range prior {
		attempts[d.Channel]++
		if d.Succeeded() {
			done[d.Channel] = true
		}
	}

	pending := make([]domain.Channel, 0, len(processing.Channels))
	for _, ch := range processing.Channels {
		if done[ch] {
			s.logger.Info("渠道已经发送成功，跳过",
				elog.Any("notificationId", processing.ID),
				elog.String("channel", ch.String()))
			continue
		}
		pending = append(pending, ch)
	}

	results := s.fanOut(ctx, processing, pending, attempts)
	return s.aggregate(ctx, processing, len(processing.Channels)-len(pending), results)
}

func (s *sender) cancelExpired(ctx context.Context, n domain.Notification, now time.Time) (domain.Notification, error) {
	cancelled, err := n.MarkAsCancelled(now)
	if err != nil {
		return n, errors.Join(fmt.Errorf("%w: id=%d", errs.ErrNotificationExpired, n.ID), err)
	}
	cancelled = cancelled.WithMetadata(domain.MetadataCancelReason, cancelReasonExpired, now)
	cancelled, err = s.repo.Update(ctx, cancelled)
	if err != nil {
		return n, fmt.Errorf("更新通知状态失败: %w", err)
	}
	s.logger.Info("通知已过期，取消发送", elog.Any("notificationId", n.ID))
	return cancelled, fmt.Errorf("%w: id=%d", errs.ErrNotificationExpired, n.ID)
}

// fanOut 每个渠道一个任务，并发度受进程级的信号量限制
func (s *sender) fanOut(ctx context.Context, n domain.Notification, channels []domain.Channel,
	attempts map[domain.Channel]int,
) []channelResult {
	results := make([]channelResult, len(channels))
	var eg errgroup.Group
	for i, ch := range channels {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			results[i] = channelResult{channel: ch, err: err, surface: true}
			continue
		}
		eg.Go(func() error {
			defer s.sem.Release(1)
			results[i] = s.deliver(ctx, n, ch, attempts[ch]+1)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// deliver 在一个渠道上完成一次投递尝试
func (s *sender) deliver(ctx context.Context, n domain.Notification, ch domain.Channel, attempt int) channelResult {
	p, err := s.router.Route(ctx, ch, channel.RouteParams{
		RetryCount: n.RetryCount,
		MaxRetries: n.MaxRetries,
		Fallback:   fallbackProvider(n),
	})
	if err != nil {
		s.logger.Error("渠道没有可用的供应商",
			elog.Any("notificationId", n.ID),
			elog.String("channel", ch.String()),
			elog.FieldErr(err))
		return channelResult{channel: ch, err: err, surface: errors.Is(err, errs.ErrNoAvailableProvider)}
	}

	title, content, err := s.renderer.RenderNotification(n, ch)
	if err != nil {
		s.logger.Warn("渲染模版失败，使用原文发送",
			elog.Any("notificationId", n.ID),
			elog.String("channel", ch.String()),
			elog.FieldErr(err))
	}

	now := s.clock.Now()
	recipient := n.Recipient(ch)
	d := domain.NewDelivery(uuid.NewString(), n.ID, ch, p.Name(), recipient, attempt, now)
	d, err = s.deliveryRepo.Create(ctx, d)
	if err != nil {
		return channelResult{channel: ch, err: fmt.Errorf("创建投递记录失败: %w", err), surface: true}
	}

	res, sendErr := s.sendWithTimeout(ctx, p, domain.SendRequest{
		NotificationID: n.ID,
		DeliveryID:     d.ID,
		Channel:        ch,
		Recipient:      recipient,
		Title:          title,
		Content:        content,
		Priority:       n.Priority,
		Options:        options(n, ch),
	})

	now = s.clock.Now()
	if sendErr != nil {
		d, err = d.MarkAsFailed(sendErr.Error(), now)
		s.logger.Warn("渠道发送失败",
			elog.Any("notificationId", n.ID),
			elog.String("channel", ch.String()),
			elog.String("provider", p.Name()),
			elog.Int("attempt", attempt),
			elog.FieldErr(sendErr))
	} else {
		d, err = d.MarkAsSent(res.ProviderMessageID, now)
	}
	if err != nil {
		return channelResult{channel: ch, err: err, surface: true}
	}
	if err = s.deliveryRepo.Update(ctx, d); err != nil {
		s.logger.Error("更新投递记录失败", elog.String("deliveryId", d.ID), elog.FieldErr(err))
	}
	if err = s.producer.Produce(ctx, delivery.NewEvent(d, now)); err != nil {
		s.logger.Warn("发送投递事件失败", elog.String("deliveryId", d.ID), elog.FieldErr(err))
	}

	if sendErr != nil {
		return channelResult{channel: ch, err: fmt.Errorf("%s/%s: %w", ch, p.Name(), sendErr)}
	}
	return channelResult{channel: ch, ok: true}
}

type sendResponse struct {
	res domain.SendResult
	err error
}

// sendWithTimeout 供应商不响应 ctx 也能按时返回
func (s *sender) sendWithTimeout(ctx context.Context, p provider.Provider, req domain.SendRequest) (domain.SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	ch := make(chan sendResponse, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- sendResponse{err: fmt.Errorf("%w: %s panic: %v", errs.ErrProviderDeliveryFailure, p.Name(), r)}
			}
		}()
		res, err := p.Send(ctx, req)
		ch <- sendResponse{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.SendResult{}, fmt.Errorf("%w: %s 超过 %s", errs.ErrProviderTimeout, p.Name(), s.sendTimeout)
		}
		return domain.SendResult{}, fmt.Errorf("%w: %w", errs.ErrProviderDeliveryFailure, ctx.Err())
	case resp := <-ch:
		if resp.err != nil && !errors.Is(resp.err, errs.ErrProviderDeliveryFailure) &&
			!errors.Is(resp.err, errs.ErrProviderTimeout) {
			resp.err = fmt.Errorf("%w: %w", errs.ErrProviderDeliveryFailure, resp.err)
		}
		return resp.res, resp.err
	}
}

// aggregate 汇总各个渠道的结果。
// 全部成功是 SENT；部分成功且还有重试额度是 FAILED，等待重新提交；
// 部分成功但额度耗尽是 SENT；全部失败是 FAILED
func (s *sender) aggregate(ctx context.Context, n domain.Notification, skipped int, results []channelResult) (domain.Notification, error) {
	var (
		channelErr *multierror.Error
		surfaced   *multierror.Error
	)
	succeeded := skipped
	for _, r := range results {
		if r.ok {
			succeeded++
			continue
		}
		channelErr = multierror.Append(channelErr, r.err)
		if r.surface {
			surfaced = multierror.Append(surfaced, r.err)
		}
	}

	now := s.clock.Now()
	total := len(n.Channels)
	var (
		res domain.Notification
		err error
	)
	switch {
	case succeeded == total:
		res, err = n.MarkAsSent(now)
	case succeeded > 0 && n.RetryCount+1 >= n.MaxRetries:
		res, err = n.MarkAsSent(now)
		res.LastError = channelErr.Error()
	default:
		res, err = n.MarkAsFailed(channelErr.Error(), now)
	}
	if err != nil {
		return n, err
	}

	res, err = s.repo.Update(ctx, res)
	if err != nil {
		surfaced = multierror.Append(surfaced, fmt.Errorf("更新通知状态失败: %w", err))
		return n, surfaced.ErrorOrNil()
	}
	if res.Status == domain.NotificationStatusSent {
		res = s.promoteDelivered(ctx, res)
	}
	s.logger.Info("通知发送完毕",
		elog.Any("notificationId", res.ID),
		elog.String("status", res.Status.String()),
		elog.Int("succeeded", succeeded),
		elog.Int("total", total))
	return res, surfaced.ErrorOrNil()
}

// promoteDelivered 回执可能在通知还是 PROCESSING 的时候就到了，
// 这时 ConfirmDelivery 只更新了投递记录，由这里把通知标记为已送达
func (s *sender) promoteDelivered(ctx context.Context, n domain.Notification) domain.Notification {
	ds, err := s.deliveryRepo.ListByNotificationID(ctx, n.ID)
	if err != nil {
		s.logger.Warn("查询投递记录失败", elog.Any("notificationId", n.ID), elog.FieldErr(err))
		return n
	}
	if !slices.ContainsFunc(ds, func(d domain.Delivery) bool {
		return d.Status == domain.DeliveryStatusDelivered
	}) {
		return n
	}
	delivered, err := n.MarkAsDelivered(s.clock.Now())
	if err != nil {
		return n
	}
	delivered, err = s.repo.Update(ctx, delivered)
	if err != nil {
		// 版本冲突说明回执那边已经更新过了
		s.logger.Warn("标记通知已送达失败", elog.Any("notificationId", n.ID), elog.FieldErr(err))
		if cur, err1 := s.repo.GetByID(ctx, n.ID); err1 == nil {
			return cur
		}
		return n
	}
	return delivered
}

func (s *sender) Resubmit(ctx context.Context, id uint64) (domain.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Notification{}, err
	}
	requeued, err := n.Requeue(s.clock.Now())
	if err != nil {
		return n, err
	}
	requeued, err = s.repo.Update(ctx, requeued)
	if err != nil {
		return n, fmt.Errorf("更新通知状态失败: %w", err)
	}
	return s.Send(ctx, requeued)
}

func (s *sender) ConfirmDelivery(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	d, err := s.deliveryRepo.GetByID(ctx, deliveryID)
	if err != nil {
		return domain.Delivery{}, err
	}
	now := s.clock.Now()
	d, err = d.MarkAsDelivered(now)
	if err != nil {
		return d, err
	}
	if err = s.deliveryRepo.Update(ctx, d); err != nil {
		return d, fmt.Errorf("更新投递记录失败: %w", err)
	}
	if err = s.producer.Produce(ctx, delivery.NewEvent(d, now)); err != nil {
		s.logger.Warn("发送投递事件失败", elog.String("deliveryId", d.ID), elog.FieldErr(err))
	}

	n, err := s.repo.GetByID(ctx, d.NotificationID)
	if err != nil {
		return d, err
	}
	if n.Status != domain.NotificationStatusSent {
		return d, nil
	}
	delivered, err := n.MarkAsDelivered(now)
	if err != nil {
		return d, err
	}
	if _, err = s.repo.Update(ctx, delivered); err != nil {
		if errors.Is(err, errs.ErrNotificationVersionMismatch) {
			// 发送流程可能同时把通知标记为已送达
			cur, err1 := s.repo.GetByID(ctx, n.ID)
			if err1 == nil && cur.Status == domain.NotificationStatusDelivered {
				return d, nil
			}
		}
		return d, fmt.Errorf("更新通知状态失败: %w", err)
	}
	return d, nil
}

func fallbackProvider(n domain.Notification) string {
	v, _ := n.Metadata[MetadataFallbackProvider].(string)
	return v
}

// options 元数据里 "<渠道>.<key>" 形式的字符串作为渠道参数，比如 "PUSH.deviceToken"
func options(n domain.Notification, ch domain.Channel) map[string]string {
	prefix := ch.String() + "."
	var res map[string]string
	for k, v := range n.Metadata {
		key, found := strings.CutPrefix(k, prefix)
		val, ok := v.(string)
		if !found || !ok || key == "" {
			continue
		}
		if res == nil {
			res = make(map[string]string, 2)
		}
		res[key] = val
	}
	return res
}
