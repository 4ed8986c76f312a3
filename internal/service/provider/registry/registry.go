package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/domain"
	"gitee.com/flycash/notification-dispatch/internal/errs"
	"gitee.com/flycash/notification-dispatch/internal/service/provider"
	"github.com/ecodeclub/ekit/slice"
	"github.com/gotomicro/ego/core/elog"
)

const defaultHealthCheckTimeout = 3 * time.Second

// Registry 进程内的供应商目录，按名称或者渠道查询。
// 查询结果保持注册顺序，按优先级排序是路由的事情
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
	// order 注册顺序
	order []string

	logger *elog.Component
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]provider.Provider),
		logger:    elog.DefaultLogger,
	}
}

// Register 按名称注册，同名覆盖并保留原来的注册位置
func (r *Registry) Register(p provider.Provider) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("%w: 供应商或者供应商名称为空", errs.ErrInvalidParameter)
	}
	name := p.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	r.logger.Info("注册供应商", elog.String("name", name), elog.String("channel", p.Channel().String()))
	return nil
}

// Unregister 不存在时什么也不做
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return
	}
	delete(r.providers, name)
	r.order = slices.DeleteFunc(r.order, func(src string) bool {
		return src == name
	})
}

func (r *Registry) Get(name string) (provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrProviderNotFound, name)
	}
	return p, nil
}

// GetByType 获取渠道下的全部供应商，按注册顺序
func (r *Registry) GetByType(channel domain.Channel) []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slice.FilterMap(r.order, func(_ int, name string) (provider.Provider, bool) {
		p := r.providers[name]
		return p, p.Channel() == channel
	})
}

func (r *Registry) GetAll() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slice.Map(r.order, func(_ int, name string) provider.Provider {
		return r.providers[name]
	})
}

// HealthCheckAll 逐个探测供应商，返回每个供应商的探测结果
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	providers := r.GetAll()
	res := make(map[string]error, len(providers))
	for _, p := range providers {
		checkCtx, cancel := context.WithTimeout(ctx, defaultHealthCheckTimeout)
		err := p.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			r.logger.Warn("供应商健康检查失败", elog.String("name", p.Name()), elog.FieldErr(err))
		}
		res[p.Name()] = err
	}
	return res
}
