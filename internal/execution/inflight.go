package execution

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateInFlight 同一 key 的请求仍在处理中（或在 TTL 窗口内）
var ErrDuplicateInFlight = errors.New("duplicate in-flight")

// InFlightDeduper 短时间窗口内的确定性去重（例如同一笔交易哈希被重复确认）
type InFlightDeduper struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]time.Time // key -> expiresAt
	now func() time.Time
}

// NewInFlightDeduper ttl <= 0 时使用 30s
func NewInFlightDeduper(ttl time.Duration) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &InFlightDeduper{ttl: ttl, m: make(map[string]time.Time), now: time.Now}
}

// TryAcquire 成功返回 nil，key 已被占用返回 ErrDuplicateInFlight
func (d *InFlightDeduper) TryAcquire(key string) error {
	if d == nil || key == "" {
		return nil
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	// 惰性清理过期项
	for k, exp := range d.m {
		if !exp.After(now) {
			delete(d.m, k)
		}
	}
	if _, ok := d.m[key]; ok {
		return ErrDuplicateInFlight
	}
	d.m[key] = now.Add(d.ttl)
	return nil
}

// Release 提前释放 key（失败后允许重试）
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	d.mu.Lock()
	delete(d.m, key)
	d.mu.Unlock()
}
