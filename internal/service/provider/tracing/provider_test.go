package tracing

import (
	"errors"
	"testing"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	providermocks "gitee.com/flycash/notification-dispatch/internal/service/provider/mocks"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestProvider(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	inner := providermocks.NewMockProvider(ctrl)
	inner.EXPECT().Name().Return("postmark").AnyTimes()
	inner.EXPECT().Channel().Return(domain.ChannelEmail).AnyTimes()
	inner.EXPECT().Send(gomock.Any(), gomock.Any()).Return(domain.SendResult{ProviderMessageID: "pm-1"}, nil)
	probeErr := errors.New("连接失败")
	inner.EXPECT().HealthCheck(gomock.Any()).Return(probeErr)

	p := NewProvider(inner)
	assert.Equal(t, "postmark", p.Name())
	assert.Equal(t, domain.ChannelEmail, p.Channel())

	res, err := p.Send(t.Context(), domain.SendRequest{NotificationID: 1, DeliveryID: "d-1", Channel: domain.ChannelEmail})
	assert.NoError(t, err)
	assert.Equal(t, "pm-1", res.ProviderMessageID)
	assert.Equal(t, probeErr, p.HealthCheck(t.Context()))
}
