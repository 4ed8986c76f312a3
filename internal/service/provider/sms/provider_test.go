package sms

import (
	"context"
	"errors"
	"testing"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/sms/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	req  client.SendReq
	resp client.SendResp
	err  error
}

func (c *fakeClient) Send(_ context.Context, req client.SendReq) (client.SendResp, error) {
	c.req = req
	return c.resp, c.err
}

func testConfig() domain.ProviderConfig {
	return domain.ProviderConfig{
		ConfigSignName:   "通知平台",
		ConfigTemplateID: "SMS_001",
	}
}

func TestProvider_Send(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		client  *fakeClient
		req     domain.SendRequest
		wantID  string
		wantErr error
		assert  func(t *testing.T, c *fakeClient)
	}{
		{
			name: "发送成功",
			client: &fakeClient{resp: client.SendResp{
				RequestID:    "req-1",
				BizID:        "biz-1",
				PhoneNumbers: map[string]client.SendRespStatus{"13800138000": {Code: client.OK}},
			}},
			req:    domain.SendRequest{Recipient: "13800138000", Title: "验证码", Content: "1234"},
			wantID: "biz-1",
			assert: func(t *testing.T, c *fakeClient) {
				assert.Equal(t, []string{"13800138000"}, c.req.PhoneNumbers)
				assert.Equal(t, "通知平台", c.req.SignName)
				assert.Equal(t, "SMS_001", c.req.TemplateID)
				assert.Equal(t, "1234", c.req.TemplateParam["content"])
				assert.Equal(t, []string{"1234"}, c.req.TemplateParamSet)
			},
		},
		{
			name: "单条通知指定模版，没有回执ID时用请求ID",
			client: &fakeClient{resp: client.SendResp{
				RequestID:    "req-2",
				PhoneNumbers: map[string]client.SendRespStatus{"13800138000": {Code: client.OK}},
			}},
			req: domain.SendRequest{
				Recipient: "13800138000,13900139000",
				Options:   map[string]string{OptionTemplateID: "SMS_002"},
			},
			wantID: "req-2",
			assert: func(t *testing.T, c *fakeClient) {
				assert.Equal(t, "SMS_002", c.req.TemplateID)
				assert.Len(t, c.req.PhoneNumbers, 2)
			},
		},
		{
			name: "部分号码失败",
			client: &fakeClient{resp: client.SendResp{
				PhoneNumbers: map[string]client.SendRespStatus{
					"13800138000": {Code: "isv.MOBILE_NUMBER_ILLEGAL", Message: "非法手机号"},
				},
			}},
			req:     domain.SendRequest{Recipient: "13800138000"},
			wantErr: errs.ErrProviderDeliveryFailure,
		},
		{
			name:    "平台返回错误",
			client:  &fakeClient{err: client.ErrSendFailed},
			req:     domain.SendRequest{Recipient: "13800138000"},
			wantErr: client.ErrSendFailed,
		},
		{
			name:    "手机号为空",
			client:  &fakeClient{},
			req:     domain.SendRequest{},
			wantErr: errs.ErrProviderDeliveryFailure,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewProvider("aliyun", tc.client, testConfig())
			require.NoError(t, err)
			res, err := p.Send(t.Context(), tc.req)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.ErrorIs(t, err, errs.ErrProviderDeliveryFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, res.ProviderMessageID)
			tc.assert(t, tc.client)
		})
	}
}

func TestProvider_Configure(t *testing.T) {
	t.Parallel()
	_, err := NewProvider("aliyun", &fakeClient{}, domain.ProviderConfig{ConfigSignName: "x"})
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	c := &fakeClient{}
	p, err := NewProvider("tencentcloud", c, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "tencentcloud", p.Name())
	assert.Equal(t, domain.ChannelSMS, p.Channel())
	assert.True(t, p.IsAvailable())
	require.NoError(t, p.HealthCheck(t.Context()))

	cfg := testConfig()
	cfg[domain.ProviderConfigEnabled] = false
	require.NoError(t, p.Configure(cfg))
	assert.False(t, p.IsAvailable())
	assert.True(t, errors.Is(p.HealthCheck(t.Context()), provider.ErrProviderDisabled))
	_, err = p.Send(t.Context(), domain.SendRequest{Recipient: "13800138000"})
	assert.ErrorIs(t, err, provider.ErrProviderDisabled)
}
