package channel

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"github.com/gotomicro/ego/core/elog"
)

const defaultMaxRetries = 3

// ProviderSource 供应商来源，registry.Registry 实现了这个接口
type ProviderSource interface {
	Get(name string) (provider.Provider, error)
	GetByType(channel domain.Channel) []provider.Provider
}

// RouteParams 路由参数
type RouteParams struct {
	RetryCount int
	// MaxRetries 小于等于0时使用默认值3
	MaxRetries int
	// Fallback 指定的备用供应商，优先于备用映射
	Fallback string
}

// Route 路由表中的一项，Priority 越小越优先，0 表示禁用
type Route struct {
	ProviderName string
	Priority     int
}

// Router 渠道路由。
// 可用的供应商由 ProviderSource 决定，优先级顺序和重试耗尽后的切换由路由表和备用映射决定
type Router struct {
	source ProviderSource

	mu sync.RWMutex
	// routes 每个渠道的路由表，始终按优先级稳定排序
	routes map[domain.Channel][]Route
	// fallbacks 渠道 -> 供应商 -> 备用供应商
	fallbacks map[domain.Channel]map[string]string

	logger *elog.Component
}

func NewRouter(source ProviderSource) *Router {
	return &Router{
		source:    source,
		routes:    make(map[domain.Channel][]Route),
		fallbacks: make(map[domain.Channel]map[string]string),
		logger:    elog.DefaultLogger,
	}
}

// Route 为渠道选择供应商
func (r *Router) Route(_ context.Context, channel domain.Channel, params RouteParams) (provider.Provider, error) {
	candidates := r.source.GetByType(channel)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: channel = %s", errs.ErrNoAvailableProvider, channel)
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	r.mu.RLock()
	routes := r.routes[channel]
	r.mu.RUnlock()

	for _, rt := range routes {
		if rt.Priority <= 0 {
			continue
		}
		p, ok := r.lookup(channel, rt.ProviderName)
		if !ok {
			continue
		}
		if !p.IsAvailable() {
			r.logger.Warn("供应商不可用，跳过", elog.String("provider", rt.ProviderName), elog.String("channel", channel.String()))
			continue
		}
		if params.RetryCount >= maxRetries {
			if fb, ok1 := r.fallbackFor(channel, rt.ProviderName, params.Fallback); ok1 {
				return fb, nil
			}
		}
		return p, nil
	}
	// 没有任何路由配置命中，使用注册顺序的第一个
	return candidates[0], nil
}

// lookup 供应商必须已注册并且属于该渠道
func (r *Router) lookup(channel domain.Channel, name string) (provider.Provider, bool) {
	p, err := r.source.Get(name)
	if err != nil || p.Channel() != channel {
		return nil, false
	}
	return p, true
}

func (r *Router) fallbackFor(channel domain.Channel, from, preferred string) (provider.Provider, bool) {
	if preferred != "" {
		if p, ok := r.lookup(channel, preferred); ok && p.IsAvailable() {
			return p, true
		}
	}
	r.mu.RLock()
	to, ok := r.fallbacks[channel][from]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	p, ok := r.lookup(channel, to)
	if !ok || !p.IsAvailable() {
		return nil, false
	}
	r.logger.Info("重试次数耗尽，切换备用供应商",
		elog.String("channel", channel.String()),
		elog.String("from", from),
		elog.String("to", to))
	return p, true
}

// AddProvider 添加路由，同名覆盖优先级
func (r *Router) AddProvider(channel domain.Channel, name string, priority int) error {
	if name == "" || priority < 0 {
		return fmt.Errorf("%w: name = %q, priority = %d", errs.ErrInvalidParameter, name, priority)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	routes := slices.Clone(r.routes[channel])
	idx := slices.IndexFunc(routes, func(rt Route) bool {
		return rt.ProviderName == name
	})
	if idx >= 0 {
		routes[idx].Priority = priority
	} else {
		routes = append(routes, Route{ProviderName: name, Priority: priority})
	}
	slices.SortStableFunc(routes, func(a, b Route) int {
		return a.Priority - b.Priority
	})
	r.routes[channel] = routes
	return nil
}

func (r *Router) RemoveProvider(channel domain.Channel, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// 路由表读出去之后不会再被修改，所以这里总是生成新的切片
	r.routes[channel] = slices.DeleteFunc(slices.Clone(r.routes[channel]), func(rt Route) bool {
		return rt.ProviderName == name
	})
}

// SetFallback 设置 from 重试耗尽之后切换到 to
func (r *Router) SetFallback(channel domain.Channel, from, to string) error {
	if from == "" || to == "" || from == to {
		return fmt.Errorf("%w: from = %q, to = %q", errs.ErrInvalidParameter, from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.fallbacks[channel]
	if !ok {
		m = make(map[string]string)
		r.fallbacks[channel] = m
	}
	m[from] = to
	return nil
}

func (r *Router) RemoveFallback(channel domain.Channel, from string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fallbacks[channel], from)
}

// Routes 返回路由表的副本
func (r *Router) Routes(channel domain.Channel) []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.routes[channel])
}

// LoadRoutes 根据供应商配置构建路由表，未启用的供应商优先级记为0
func (r *Router) LoadRoutes(descriptors []domain.ProviderDescriptor) error {
	for _, d := range descriptors {
		priority := d.Priority
		if !d.Config.Enabled() {
			priority = 0
		}
		if err := r.AddProvider(d.Channel, d.Name, priority); err != nil {
			return err
		}
	}
	return nil
}
