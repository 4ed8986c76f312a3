package sender

import (
	"context"
	"strconv"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilitySender 为通知发送添加链路追踪的装饰器
type ObservabilitySender struct {
	sender NotificationSender
	tracer trace.Tracer
}

// NewObservabilitySender 创建一个新的带有链路追踪的发送器
func NewObservabilitySender(sender NotificationSender) *ObservabilitySender {
	return &ObservabilitySender{
		sender: sender,
		tracer: otel.Tracer("notification-dispatch/sender"),
	}
}

func (o *ObservabilitySender) Send(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	channels := make([]string, 0, len(n.Channels))
	for _, ch := range n.Channels {
		channels = append(channels, ch.String())
	}
	ctx, span := o.tracer.Start(ctx, "NotificationSender.Send",
		trace.WithAttributes(
			attribute.String("notification.id", strconv.FormatUint(n.ID, 10)),
			attribute.String("notification.userId", n.UserID),
			attribute.StringSlice("notification.channels", channels),
			attribute.Int("notification.retryCount", n.RetryCount),
		))
	defer span.End()

	res, err := o.sender.Send(ctx, n)
	o.end(span, res, err)
	return res, err
}

func (o *ObservabilitySender) Resubmit(ctx context.Context, id uint64) (domain.Notification, error) {
	ctx, span := o.tracer.Start(ctx, "NotificationSender.Resubmit",
		trace.WithAttributes(attribute.String("notification.id", strconv.FormatUint(id, 10))))
	defer span.End()

	res, err := o.sender.Resubmit(ctx, id)
	o.end(span, res, err)
	return res, err
}

func (o *ObservabilitySender) ConfirmDelivery(ctx context.Context, deliveryID string) (domain.Delivery, error) {
	ctx, span := o.tracer.Start(ctx, "NotificationSender.ConfirmDelivery",
		trace.WithAttributes(attribute.String("delivery.id", deliveryID)))
	defer span.End()

	d, err := o.sender.ConfirmDelivery(ctx, deliveryID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.String("notification.id", strconv.FormatUint(d.NotificationID, 10)),
			attribute.String("delivery.status", d.Status.String()),
		)
	}
	return d, err
}

func (o *ObservabilitySender) end(span trace.Span, n domain.Notification, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("notification.status", n.Status.String()),
		attribute.Int("notification.retryCount", n.RetryCount),
	)
	if n.LastError != "" {
		span.SetAttributes(attribute.String("notification.lastError", n.LastError))
	}
}
