package tracing

import (
	"context"
	"strconv"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ provider.Provider = (*Provider)(nil)

// Provider 为供应商实现添加链路追踪的装饰器
type Provider struct {
	provider.Provider
	tracer trace.Tracer
}

// NewProvider 创建一个新的带有链路追踪的供应商
func NewProvider(p provider.Provider) *Provider {
	return &Provider{
		Provider: p,
		tracer:   otel.Tracer("notification-dispatch/provider"),
	}
}

func (p *Provider) Send(ctx context.Context, req domain.SendRequest) (domain.SendResult, error) {
	ctx, span := p.tracer.Start(ctx, "Provider.Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.name", p.Name()),
			attribute.String("notification.id", strconv.FormatUint(req.NotificationID, 10)),
			attribute.String("notification.channel", req.Channel.String()),
			attribute.String("delivery.id", req.DeliveryID),
		))
	defer span.End()

	res, err := p.Provider.Send(ctx, req)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("provider.messageId", res.ProviderMessageID))
	}
	return res, err
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "Provider.HealthCheck",
		trace.WithAttributes(attribute.String("provider.name", p.Name())))
	defer span.End()

	err := p.Provider.HealthCheck(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
