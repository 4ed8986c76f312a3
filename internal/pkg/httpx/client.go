package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"gitee.com/flycash/notification-dispatch/internal/pkg/retry"
	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen 熔断中，请求没有发出去
	ErrCircuitOpen = errors.New("熔断中")
	// ErrUpstream 对端返回 5xx 或者 429
	ErrUpstream = errors.New("对端服务异常")
)

const (
	defaultConsecutiveFailures = 5
	// 一段时间没有请求的对端，熔断器会被清理
	breakerIdleTTL = 10 * time.Minute
)

// Client 对外 HTTP 调用统一走这里，带熔断和重试。
// 每个对端 host 一个熔断器，互不影响。
// 对端返回 5xx 和 429 会重试，其余的响应直接交给调用方
type Client struct {
	name     string
	client   *http.Client
	retryCfg retry.Config

	mu       sync.Mutex
	breakers *cache.Cache
}

type Option func(c *Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithRetry(cfg retry.Config) Option {
	return func(c *Client) {
		c.retryCfg = cfg
	}
}

// NewClient name 是熔断器名称，一般是供应商名称
func NewClient(name string, opts ...Option) (*Client, error) {
	c := &Client{
		name:     name,
		client:   &http.Client{Timeout: 10 * time.Second},
		breakers: cache.New(breakerIdleTTL, 2*breakerIdleTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	// 提前校验重试配置
	if _, err := retry.NewRetry(c.retryCfg); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cb *gobreaker.CircuitBreaker[*http.Response]
	if v, ok := c.breakers.Get(host); ok {
		cb = v.(*gobreaker.CircuitBreaker[*http.Response])
	} else {
		cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        c.name + "/" + host,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= defaultConsecutiveFailures
			},
		})
	}
	// 每次访问都续期
	c.breakers.SetDefault(host, cb)
	return cb
}

// Available 没有任何对端处于熔断状态
func (c *Client) Available() bool {
	for _, item := range c.breakers.Items() {
		cb := item.Object.(*gobreaker.CircuitBreaker[*http.Response])
		if cb.State() == gobreaker.StateOpen {
			return false
		}
	}
	return true
}

// AvailableFor host 对应的熔断器没有打开
func (c *Client) AvailableFor(host string) bool {
	v, ok := c.breakers.Get(host)
	if !ok {
		return true
	}
	return v.(*gobreaker.CircuitBreaker[*http.Response]).State() != gobreaker.StateOpen
}

// Do 调用方负责关闭返回的 Body
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("读取请求体失败: %w", err)
		}
	}
	strategy, err := retry.NewRetry(c.retryCfg)
	if err != nil {
		return nil, err
	}
	cb := c.breaker(req.URL.Host)

	for {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}
		resp, err := cb.Execute(func() (*http.Response, error) {
			r, err1 := c.client.Do(req)
			if err1 != nil {
				return nil, err1
			}
			if r.StatusCode >= http.StatusInternalServerError || r.StatusCode == http.StatusTooManyRequests {
				_ = r.Body.Close()
				return nil, fmt.Errorf("%w: %s %d", ErrUpstream, req.URL.Host, r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		if strategy == nil {
			return nil, err
		}
		next, ok := strategy.Next()
		if !ok {
			return nil, err
		}
		timer := time.NewTimer(next)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}
