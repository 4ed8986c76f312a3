package clock

import (
	"sync"
	"time"
)

// Clock 统一的时间来源，所有 "现在" 的比较都要经过它
type Clock interface {
	Now() time.Time
}

// RealClock 使用系统时间（UTC）
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// FakeClock 可以手动拨动的时钟，测试使用
type FakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance 向前拨动时钟
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
