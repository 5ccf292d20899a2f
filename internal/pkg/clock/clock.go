// internal/pkg/clock/clock.go
package clock

import (
	"sync"
	"time"
)

// Clock 是注入到状态机、时间线和锁中的时间源。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System 返回基于 time.Now 的 UTC 时钟
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Fake 是测试用的可控时钟
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance 向前拨动时钟并返回新的时间
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
