package channel

import (
	"testing"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	providermocks "gitee.com/flycash/notification-dispatch/internal/service/provider/mocks"
	"gitee.com/flycash/notification-dispatch/internal/service/provider/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newMockProvider(ctrl *gomock.Controller, name string, channel domain.Channel, available bool) *providermocks.MockProvider {
	p := providermocks.NewMockProvider(ctrl)
	p.EXPECT().Name().Return(name).AnyTimes()
	p.EXPECT().Channel().Return(channel).AnyTimes()
	p.EXPECT().IsAvailable().Return(available).AnyTimes()
	return p
}

func TestRouter_Route(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		before func(ctrl *gomock.Controller, reg *registry.Registry, r *Router)
		params RouteParams

		wantName string
		wantErr  error
	}{
		{
			name: "按优先级选择",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, true)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p2", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p2", 2))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p1", 1))
			},
			params:   RouteParams{RetryCount: 0, MaxRetries: 3},
			wantName: "p1",
		},
		{
			name: "重试耗尽切换备用",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, true)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p2", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p1", 1))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p2", 2))
				require.NoError(t, r.SetFallback(domain.ChannelSMS, "p1", "p2"))
			},
			params:   RouteParams{RetryCount: 3, MaxRetries: 3},
			wantName: "p2",
		},
		{
			name: "重试未耗尽不切换",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, true)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p2", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p1", 1))
				require.NoError(t, r.SetFallback(domain.ChannelSMS, "p1", "p2"))
			},
			params:   RouteParams{RetryCount: 2, MaxRetries: 3},
			wantName: "p1",
		},
		{
			name: "参数指定的备用优先",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, true)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p2", domain.ChannelSMS, true)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p3", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p1", 1))
				require.NoError(t, r.SetFallback(domain.ChannelSMS, "p1", "p2"))
			},
			params:   RouteParams{RetryCount: 3, MaxRetries: 3, Fallback: "p3"},
			wantName: "p3",
		},
		{
			name: "备用未注册，继续使用原供应商",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p1", 1))
				require.NoError(t, r.SetFallback(domain.ChannelSMS, "p1", "p2"))
			},
			params:   RouteParams{RetryCount: 5, MaxRetries: 3},
			wantName: "p1",
		},
		{
			name: "优先级为0的不会被选中",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, true)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p2", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p1", 0))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p2", 5))
			},
			wantName: "p2",
		},
		{
			name: "跳过不可用的供应商",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, false)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p2", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p1", 1))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "p2", 2))
			},
			wantName: "p2",
		},
		{
			name: "路由表中的供应商未注册，使用注册顺序的第一个",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, true)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p2", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "ghost", 1))
			},
			wantName: "p1",
		},
		{
			name: "其它渠道的供应商不会被选中",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "mail", domain.ChannelEmail, true)))
				require.NoError(t, reg.Register(newMockProvider(ctrl, "p1", domain.ChannelSMS, true)))
				require.NoError(t, r.AddProvider(domain.ChannelSMS, "mail", 1))
			},
			wantName: "p1",
		},
		{
			name: "没有供应商",
			before: func(ctrl *gomock.Controller, reg *registry.Registry, r *Router) {
				require.NoError(t, reg.Register(newMockProvider(ctrl, "mail", domain.ChannelEmail, true)))
			},
			wantErr: errs.ErrNoAvailableProvider,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			reg := registry.NewRegistry()
			r := NewRouter(reg)
			tc.before(ctrl, reg, r)

			p, err := r.Route(t.Context(), domain.ChannelSMS, tc.params)
			assert.ErrorIs(t, err, tc.wantErr)
			if err != nil {
				return
			}
			assert.Equal(t, tc.wantName, p.Name())
		})
	}
}

func TestRouter_Routes(t *testing.T) {
	t.Parallel()
	r := NewRouter(registry.NewRegistry())

	require.NoError(t, r.AddProvider(domain.ChannelPush, "a", 2))
	require.NoError(t, r.AddProvider(domain.ChannelPush, "b", 1))
	require.NoError(t, r.AddProvider(domain.ChannelPush, "c", 2))
	// 优先级相同保持添加顺序
	assert.Equal(t, []Route{
		{ProviderName: "b", Priority: 1},
		{ProviderName: "a", Priority: 2},
		{ProviderName: "c", Priority: 2},
	}, r.Routes(domain.ChannelPush))

	// 覆盖优先级
	require.NoError(t, r.AddProvider(domain.ChannelPush, "c", 0))
	assert.Equal(t, []Route{
		{ProviderName: "c", Priority: 0},
		{ProviderName: "b", Priority: 1},
		{ProviderName: "a", Priority: 2},
	}, r.Routes(domain.ChannelPush))

	r.RemoveProvider(domain.ChannelPush, "b")
	assert.Equal(t, []Route{
		{ProviderName: "c", Priority: 0},
		{ProviderName: "a", Priority: 2},
	}, r.Routes(domain.ChannelPush))

	assert.ErrorIs(t, r.AddProvider(domain.ChannelPush, "", 1), errs.ErrInvalidParameter)
	assert.ErrorIs(t, r.AddProvider(domain.ChannelPush, "x", -1), errs.ErrInvalidParameter)
	assert.ErrorIs(t, r.SetFallback(domain.ChannelPush, "a", "a"), errs.ErrInvalidParameter)
	assert.Empty(t, r.Routes(domain.ChannelWebhook))
}

func TestRouter_LoadRoutesAndRemoveFallback(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	reg := registry.NewRegistry()
	r := NewRouter(reg)

	for _, p := range []provider.Provider{
		newMockProvider(ctrl, "aliyun", domain.ChannelSMS, true),
		newMockProvider(ctrl, "tencent", domain.ChannelSMS, true),
	} {
		require.NoError(t, reg.Register(p))
	}
	require.NoError(t, r.LoadRoutes([]domain.ProviderDescriptor{
		{Name: "aliyun", Channel: domain.ChannelSMS, Priority: 1, Config: domain.ProviderConfig{"enabled": false}},
		{Name: "tencent", Channel: domain.ChannelSMS, Priority: 2},
	}))
	assert.Equal(t, []Route{
		{ProviderName: "aliyun", Priority: 0},
		{ProviderName: "tencent", Priority: 2},
	}, r.Routes(domain.ChannelSMS))

	p, err := r.Route(t.Context(), domain.ChannelSMS, RouteParams{})
	require.NoError(t, err)
	assert.Equal(t, "tencent", p.Name())

	require.NoError(t, r.SetFallback(domain.ChannelSMS, "tencent", "aliyun"))
	p, err = r.Route(t.Context(), domain.ChannelSMS, RouteParams{RetryCount: 3})
	require.NoError(t, err)
	assert.Equal(t, "aliyun", p.Name())

	r.RemoveFallback(domain.ChannelSMS, "tencent")
	p, err = r.Route(t.Context(), domain.ChannelSMS, RouteParams{RetryCount: 3})
	require.NoError(t, err)
	assert.Equal(t, "tencent", p.Name())
}
