package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/pkg/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, endpoint string) *Provider {
	t.Helper()
	client, err := httpx.NewClient("push-test")
	require.NoError(t, err)
	p, err := NewProvider("fcm", client, domain.ProviderConfig{
		ConfigEndpoint:    endpoint,
		ConfigAccessToken: "token-1",
	})
	require.NoError(t, err)
	return p
}

func TestProvider_Send(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		status  int
		body    string
		req     domain.SendRequest
		wantID  string
		wantErr error
	}{
		{
			name:   "发送成功",
			status: http.StatusOK,
			body:   `{"name":"projects/demo/messages/1"}`,
			req: domain.SendRequest{
				NotificationID: 1,
				DeliveryID:     "d-1",
				Recipient:      "user-1",
				Title:          "新消息",
				Content:        "你有一条新消息",
				Priority:       domain.PriorityUrgent,
				Options:        map[string]string{OptionDeviceToken: "device-1"},
			},
			wantID: "projects/demo/messages/1",
		},
		{
			name:    "token失效",
			status:  http.StatusNotFound,
			body:    `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`,
			req:     domain.SendRequest{Recipient: "device-2"},
			wantErr: errs.ErrProviderDeliveryFailure,
		},
		{
			name:    "响应格式错误",
			status:  http.StatusOK,
			body:    `not json`,
			req:     domain.SendRequest{Recipient: "device-3"},
			wantErr: errs.ErrProviderDeliveryFailure,
		},
		{
			name:    "没有设备token",
			status:  http.StatusOK,
			req:     domain.SendRequest{},
			wantErr: errs.ErrInvalidParameter,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
				var body request
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				if tc.req.Options[OptionDeviceToken] != "" {
					assert.Equal(t, "device-1", body.Message.Token)
					assert.Equal(t, "你有一条新消息", body.Message.Notification.Body)
					assert.Equal(t, "d-1", body.Message.Data["deliveryId"])
					assert.Equal(t, "high", body.Message.Android.Priority)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			p := newTestProvider(t, server.URL)
			res, err := p.Send(t.Context(), tc.req)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.ErrorIs(t, err, errs.ErrProviderDeliveryFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, res.ProviderMessageID)
		})
	}
}

func TestProvider_Configure(t *testing.T) {
	t.Parallel()
	client, err := httpx.NewClient("push-test")
	require.NoError(t, err)
	_, err = NewProvider("fcm", client, domain.ProviderConfig{})
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	p := newTestProvider(t, "http://127.0.0.1:1")
	assert.Equal(t, domain.ChannelPush, p.Channel())
	assert.True(t, p.IsAvailable())
	require.NoError(t, p.HealthCheck(t.Context()))
}
