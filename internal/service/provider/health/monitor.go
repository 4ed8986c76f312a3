package health

import (
	"context"
	"sync"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/patrickmn/go-cache"
)

const defaultProbeTimeout = 5 * time.Second

// Monitor 探测不健康的供应商，探测成功就恢复。
// 探测失败的结果会缓存 backoff 这么久，期间不再探测
type Monitor struct {
	mu        sync.RWMutex
	providers []*Provider

	failures *cache.Cache
	logger   *elog.Component
}

func NewMonitor(backoff time.Duration, providers ...*Provider) *Monitor {
	return &Monitor{
		providers: providers,
		failures:  cache.New(backoff, 2*backoff),
		logger:    elog.DefaultLogger,
	}
}

func (m *Monitor) Add(p *Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, p)
}

// Check 探测一遍，返回不健康的供应商最近一次的探测错误
func (m *Monitor) Check(ctx context.Context) map[string]error {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	res := make(map[string]error)
	for _, p := range providers {
		if p.Healthy() {
			continue
		}
		name := p.Name()
		if v, ok := m.failures.Get(name); ok {
			res[name] = v.(error)
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
		err := p.HealthCheck(probeCtx)
		cancel()
		if err != nil {
			m.failures.SetDefault(name, err)
			res[name] = err
			m.logger.Warn("供应商探活失败", elog.String("provider", name), elog.FieldErr(err))
			continue
		}
		m.failures.Delete(name)
		p.markHealthy()
	}
	return res
}
