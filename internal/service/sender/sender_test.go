package sender

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/event/delivery"
	"gitee.com/flycash/notification-dispatch/internal/pkg/clock"
	"gitee.com/flycash/notification-dispatch/internal/repository/memory"
	"gitee.com/flycash/notification-dispatch/internal/service/channel"
	providermocks "gitee.com/flycash/notification-dispatch/internal/service/provider/mocks"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/registry"
	"gitee.com/flycash/notification-dispatch/internal/service/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var baseTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingProducer struct {
	mu     sync.Mutex
	events []delivery.Event
}

func (p *recordingProducer) Produce(_ context.Context, evt delivery.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingProducer) Events() []delivery.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]delivery.Event(nil), p.events...)
}

type fixture struct {
	ctrl         *gomock.Controller
	registry     *registry.Registry
	repo         *memory.NotificationRepository
	deliveryRepo *memory.DeliveryRepository
	clock        *clock.FakeClock
	events       *recordingProducer
	sender       NotificationSender
	nextID       atomic.Uint64
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		ctrl:         gomock.NewController(t),
		registry:     registry.NewRegistry(),
		repo:         memory.NewNotificationRepository(),
		deliveryRepo: memory.NewDeliveryRepository(),
		clock:        clock.NewFakeClock(baseTime),
		events:       &recordingProducer{},
	}
	f.sender = NewSender(channel.NewRouter(f.registry), template.NewRenderer(),
		f.repo, f.deliveryRepo, f.events, f.clock, cfg)
	return f
}

func (f *fixture) addProvider(t *testing.T, name string, ch domain.Channel) *providermocks.MockProvider {
	t.Helper()
	p := providermocks.NewMockProvider(f.ctrl)
	p.EXPECT().Name().Return(name).AnyTimes()
	p.EXPECT().Channel().Return(ch).AnyTimes()
	p.EXPECT().IsAvailable().Return(true).AnyTimes()
	require.NoError(t, f.registry.Register(p))
	return p
}

func (f *fixture) create(t *testing.T, params domain.NotificationParams) domain.Notification {
	t.Helper()
	if params.UserID == "" {
		params.UserID = "user-1"
	}
	n, err := domain.NewNotification(f.nextID.Add(1), params, f.clock.Now())
	require.NoError(t, err)
	n, err = f.repo.Create(t.Context(), n)
	require.NoError(t, err)
	return n
}

func (f *fixture) deliveriesOf(t *testing.T, id uint64, ch domain.Channel) []domain.Delivery {
	t.Helper()
	all, err := f.deliveryRepo.ListByNotificationID(t.Context(), id)
	require.NoError(t, err)
	res := make([]domain.Delivery, 0, len(all))
	for _, d := range all {
		if d.Channel == ch {
			res = append(res, d)
		}
	}
	return res
}

func ok(id string) domain.SendResult {
	return domain.SendResult{ProviderMessageID: id}
}

func TestSender_Send_AllChannelsSucceeded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	email := f.addProvider(t, "postmark", domain.ChannelEmail)
	sms := f.addProvider(t, "aliyun", domain.ChannelSMS)

	email.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.SendRequest) (domain.SendResult, error) {
			assert.Equal(t, "你好 Tom", req.Title)
			assert.Equal(t, "tom@example.com", req.Recipient)
			assert.Equal(t, map[string]string{"replyTo": "no-reply@example.com"}, req.Options)
			assert.NotEmpty(t, req.DeliveryID)
			return ok("email-1"), nil
		})
	sms.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.SendRequest) (domain.SendResult, error) {
			// 没有配置接收地址时使用用户ID
			assert.Equal(t, "user-1", req.Recipient)
			assert.Nil(t, req.Options)
			return ok("sms-1"), nil
		})

	n := f.create(t, domain.NotificationParams{
		Title:      "你好 {{name}}",
		Message:    "欢迎",
		Channels:   []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		Variables:  map[string]string{"name": "Tom"},
		Recipients: map[domain.Channel]string{domain.ChannelEmail: "tom@example.com"},
		Metadata:   map[string]any{"EMAIL.replyTo": "no-reply@example.com"},
	})

	res, err := f.sender.Send(t.Context(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusSent, res.Status)
	assert.Equal(t, baseTime, res.SentAt)
	assert.Equal(t, 0, res.RetryCount)

	stored, err := f.repo.GetByID(t.Context(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, res, stored)

	emails := f.deliveriesOf(t, n.ID, domain.ChannelEmail)
	require.Len(t, emails, 1)
	assert.Equal(t, domain.DeliveryStatusSent, emails[0].Status)
	assert.Equal(t, "email-1", emails[0].ProviderMessageID)
	assert.Equal(t, "postmark", emails[0].ProviderName)
	assert.Equal(t, 1, emails[0].AttemptNumber)
	assert.Len(t, f.deliveriesOf(t, n.ID, domain.ChannelSMS), 1)
	assert.Len(t, f.events.Events(), 2)
}

func TestSender_ResubmitSkipsSucceededChannels(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	email := f.addProvider(t, "postmark", domain.ChannelEmail)
	sms := f.addProvider(t, "aliyun", domain.ChannelSMS)

	email.EXPECT().Send(gomock.Any(), gomock.Any()).Return(ok("email-1"), nil).Times(1)
	sms.EXPECT().Send(gomock.Any(), gomock.Any()).
		Return(domain.SendResult{}, fmt.Errorf("%w: 余额不足", errs.ErrProviderDeliveryFailure)).Times(1)
	sms.EXPECT().Send(gomock.Any(), gomock.Any()).Return(ok("sms-2"), nil).Times(1)

	n := f.create(t, domain.NotificationParams{
		Title:    "验证码",
		Message:  "1234",
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
	})

	failed, err := f.sender.Send(t.Context(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Contains(t, failed.LastError, "余额不足")

	f.clock.Advance(time.Minute)
	sent, err := f.sender.Resubmit(t.Context(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusSent, sent.Status)
	assert.Equal(t, 1, sent.RetryCount)

	smsDeliveries := f.deliveriesOf(t, n.ID, domain.ChannelSMS)
	require.Len(t, smsDeliveries, 2)
	assert.Equal(t, 1, smsDeliveries[0].AttemptNumber)
	assert.Equal(t, domain.DeliveryStatusFailed, smsDeliveries[0].Status)
	assert.Equal(t, 2, smsDeliveries[1].AttemptNumber)
	assert.Equal(t, domain.DeliveryStatusSent, smsDeliveries[1].Status)
	assert.Len(t, f.deliveriesOf(t, n.ID, domain.ChannelEmail), 1)
}

func TestSender_Send_Aggregation(t *testing.T) {
	t.Parallel()
	failure := fmt.Errorf("%w: 拒收", errs.ErrProviderDeliveryFailure)
	testCases := []struct {
		name           string
		maxRetries     int
		emailErr       error
		smsErr         error
		wantStatus     domain.NotificationStatus
		wantRetryCount int
		wantLastError  bool
	}{
		{
			name:           "部分成功，重试额度耗尽",
			maxRetries:     1,
			smsErr:         failure,
			wantStatus:     domain.NotificationStatusSent,
			wantRetryCount: 0,
			wantLastError:  true,
		},
		{
			name:           "全部失败",
			maxRetries:     3,
			emailErr:       failure,
			smsErr:         failure,
			wantStatus:     domain.NotificationStatusFailed,
			wantRetryCount: 1,
			wantLastError:  true,
		},
		{
			name:           "供应商返回普通错误",
			maxRetries:     3,
			emailErr:       errors.New("connection reset"),
			wantStatus:     domain.NotificationStatusFailed,
			wantRetryCount: 1,
			wantLastError:  true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, Config{})
			email := f.addProvider(t, "postmark", domain.ChannelEmail)
			sms := f.addProvider(t, "aliyun", domain.ChannelSMS)
			email.EXPECT().Send(gomock.Any(), gomock.Any()).Return(ok("e"), tc.emailErr)
			sms.EXPECT().Send(gomock.Any(), gomock.Any()).Return(ok("s"), tc.smsErr)

			n := f.create(t, domain.NotificationParams{
				Channels:   []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
				MaxRetries: tc.maxRetries,
			})
			res, err := f.sender.Send(t.Context(), n)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, res.Status)
			assert.Equal(t, tc.wantRetryCount, res.RetryCount)
			assert.Equal(t, tc.wantLastError, res.LastError != "")

			for _, d := range f.deliveriesOf(t, n.ID, domain.ChannelEmail) {
				if tc.emailErr != nil {
					assert.Equal(t, domain.DeliveryStatusFailed, d.Status)
					assert.Contains(t, d.Error, errs.ErrProviderDeliveryFailure.Error())
				}
			}
		})
	}
}

func TestSender_Send_Expired(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	n := f.create(t, domain.NotificationParams{
		Channels:  []domain.Channel{domain.ChannelEmail},
		ExpiresAt: baseTime.Add(time.Minute),
	})
	f.clock.Advance(2 * time.Minute)

	res, err := f.sender.Send(t.Context(), n)
	assert.ErrorIs(t, err, errs.ErrNotificationExpired)
	assert.Equal(t, domain.NotificationStatusCancelled, res.Status)
	assert.Equal(t, "expired", res.Metadata[domain.MetadataCancelReason])

	stored, err := f.repo.GetByID(t.Context(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusCancelled, stored.Status)
	assert.Empty(t, f.deliveriesOf(t, n.ID, domain.ChannelEmail))
}

func TestSender_Send_NoProvider(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	email := f.addProvider(t, "postmark", domain.ChannelEmail)
	email.EXPECT().Send(gomock.Any(), gomock.Any()).Return(ok("e"), nil)

	n := f.create(t, domain.NotificationParams{
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelWebhook},
	})
	res, err := f.sender.Send(t.Context(), n)
	assert.ErrorIs(t, err, errs.ErrNoAvailableProvider)
	assert.Equal(t, domain.NotificationStatusFailed, res.Status)
	assert.Contains(t, res.LastError, errs.ErrNoAvailableProvider.Error())
	assert.Empty(t, f.deliveriesOf(t, n.ID, domain.ChannelWebhook))
}

func TestSender_Send_Timeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{SendTimeout: 20 * time.Millisecond})
	push := f.addProvider(t, "fcm", domain.ChannelPush)
	push.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, domain.SendRequest) (domain.SendResult, error) {
			// 不理会 ctx 的供应商
			time.Sleep(200 * time.Millisecond)
			return ok("late"), nil
		})

	n := f.create(t, domain.NotificationParams{Channels: []domain.Channel{domain.ChannelPush}})
	res, err := f.sender.Send(t.Context(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusFailed, res.Status)

	ds := f.deliveriesOf(t, n.ID, domain.ChannelPush)
	require.Len(t, ds, 1)
	assert.Equal(t, domain.DeliveryStatusFailed, ds[0].Status)
	assert.Contains(t, ds[0].Error, errs.ErrProviderTimeout.Error())
}

func TestSender_Send_ProviderPanic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	webhook := f.addProvider(t, "webhook", domain.ChannelWebhook)
	webhook.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, domain.SendRequest) (domain.SendResult, error) {
			panic("boom")
		})

	n := f.create(t, domain.NotificationParams{Channels: []domain.Channel{domain.ChannelWebhook}})
	res, err := f.sender.Send(t.Context(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusFailed, res.Status)
	assert.Contains(t, res.LastError, "boom")
}

func TestSender_Send_InvalidState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	n := f.create(t, domain.NotificationParams{Channels: []domain.Channel{domain.ChannelEmail}})
	processing, err := n.MarkAsProcessing(baseTime)
	require.NoError(t, err)

	_, err = f.sender.Send(t.Context(), processing)
	assert.ErrorIs(t, err, errs.ErrInvalidStateTransition)

	_, err = f.sender.Resubmit(t.Context(), n.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidStateTransition)

	_, err = f.sender.Resubmit(t.Context(), 10086)
	assert.ErrorIs(t, err, errs.ErrNotificationNotFound)
}

func TestSender_Send_BoundedConcurrency(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Concurrency: 1})
	var running, peak atomic.Int32
	send := func(context.Context, domain.SendRequest) (domain.SendResult, error) {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return ok("x"), nil
	}
	for name, ch := range map[string]domain.Channel{
		"postmark": domain.ChannelEmail,
		"aliyun":   domain.ChannelSMS,
		"fcm":      domain.ChannelPush,
	} {
		p := f.addProvider(t, name, ch)
		p.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(send)
	}

	n := f.create(t, domain.NotificationParams{
		Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush},
	})
	res, err := f.sender.Send(t.Context(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusSent, res.Status)
	assert.Equal(t, int32(1), peak.Load())
}

func TestSender_ConfirmDelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	sms := f.addProvider(t, "aliyun", domain.ChannelSMS)
	sms.EXPECT().Send(gomock.Any(), gomock.Any()).Return(ok("biz-1"), nil)

	n := f.create(t, domain.NotificationParams{Channels: []domain.Channel{domain.ChannelSMS}})
	_, err := f.sender.Send(t.Context(), n)
	require.NoError(t, err)
	ds := f.deliveriesOf(t, n.ID, domain.ChannelSMS)
	require.Len(t, ds, 1)

	f.clock.Advance(time.Minute)
	d, err := f.sender.ConfirmDelivery(t.Context(), ds[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusDelivered, d.Status)
	assert.Equal(t, baseTime.Add(time.Minute), d.DeliveredAt)

	stored, err := f.repo.GetByID(t.Context(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusDelivered, stored.Status)
	assert.Equal(t, baseTime.Add(time.Minute), stored.DeliveredAt)

	_, err = f.sender.ConfirmDelivery(t.Context(), ds[0].ID)
	assert.ErrorIs(t, err, errs.ErrInvalidStateTransition)
	_, err = f.sender.ConfirmDelivery(t.Context(), "unknown")
	assert.ErrorIs(t, err, errs.ErrDeliveryNotFound)

	events := f.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.DeliveryStatusDelivered.String(), events[1].Status)
}

func TestSender_ConfirmDeliveryWhileProcessing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	sms := f.addProvider(t, "aliyun", domain.ChannelSMS)
	sms.EXPECT().Send(gomock.Any(), gomock.Any()).Return(ok("biz-1"), nil)
	email := f.addProvider(t, "postmark", domain.ChannelEmail)

	n := f.create(t, domain.NotificationParams{Channels: []domain.Channel{domain.ChannelSMS, domain.ChannelEmail}})
	// 短信的回执在邮件还没有发完的时候就到了
	email.EXPECT().Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.SendRequest) (domain.SendResult, error) {
			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				ds, err := f.deliveryRepo.ListByNotificationID(ctx, n.ID)
				if err != nil {
					return domain.SendResult{}, err
				}
				idx := slices.IndexFunc(ds, func(d domain.Delivery) bool {
					return d.Channel == domain.ChannelSMS && d.Status == domain.DeliveryStatusSent
				})
				if idx >= 0 {
					if _, err = f.sender.ConfirmDelivery(ctx, ds[idx].ID); err != nil {
						return domain.SendResult{}, err
					}
					break
				}
				time.Sleep(time.Millisecond)
			}
			stored, err := f.repo.GetByID(ctx, n.ID)
			if err != nil {
				return domain.SendResult{}, err
			}
			if stored.Status != domain.NotificationStatusProcessing {
				return domain.SendResult{}, errors.New("通知应该还在发送中")
			}
			return ok("pm-1"), nil
		})

	res, err := f.sender.Send(t.Context(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusDelivered, res.Status)

	stored, err := f.repo.GetByID(t.Context(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusDelivered, stored.Status)
	assert.Equal(t, domain.DeliveryStatusDelivered, f.deliveriesOf(t, n.ID, domain.ChannelSMS)[0].Status)
}
