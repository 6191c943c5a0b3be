package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache in-memory CacheStore，惰性過期檢查加上定期清掃
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	hits    int64
	misses  int64

	// now 可替換，測試時模擬時鐘
	now func() time.Time

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once
}

// NewMemoryCache create a MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:       make(map[string]memoryEntry),
		now:           time.Now,
		sweepInterval: time.Minute,
		stopSweep:     make(chan struct{}),
	}
}

// SetClock 測試用，替換時鐘
func (m *MemoryCache) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// StartSweeper 啟動背景清掃，避免純惰性策略下無上限增長
func (m *MemoryCache) StartSweeper() {
	m.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(m.sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.sweep()
				case <-m.stopSweep:
					return
				}
			}
		}()
	})
}

// StopSweeper 停止背景清掃
func (m *MemoryCache) StopSweeper() {
	close(m.stopSweep)
}

func (m *MemoryCache) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}

// Set store value with ttl
func (m *MemoryCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{
		value:     value,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Get 過期視同不存在
func (m *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return "", ErrCacheMiss
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		m.misses++
		return "", ErrCacheMiss
	}
	m.hits++
	return e.value, nil
}

// Del delete key
func (m *MemoryCache) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Exists check key exist
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

// TTL 回剩餘秒數，key 不存在回 -2
func (m *MemoryCache) TTL(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return -2, nil
	}
	remaining := e.expiresAt.Sub(m.now())
	if remaining <= 0 {
		delete(m.entries, key)
		return -2, nil
	}
	return int(remaining.Seconds()), nil
}

// Increment 原子遞增。新 key 從 1 開始，呼叫端負責搭配 Expire 界定計數窗口
func (m *MemoryCache) Increment(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	e, ok := m.entries[key]
	if ok && !m.now().After(e.expiresAt) {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err == nil {
			current = parsed
		}
	}

	current++
	expiresAt := e.expiresAt
	if !ok || m.now().After(e.expiresAt) {
		// 新計數先不設過期，等呼叫端 Expire
		expiresAt = m.now().Add(24 * time.Hour)
	}
	m.entries[key] = memoryEntry{
		value:     strconv.FormatInt(current, 10),
		expiresAt: expiresAt,
	}
	return current, nil
}

// Expire 更新 key 的過期時間
func (m *MemoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	e.expiresAt = m.now().Add(ttl)
	m.entries[key] = e
	return nil
}

// Stats 回命中統計，順便清掉過期項
func (m *MemoryCache) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}

	total := m.hits + m.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(m.hits) / float64(total) * 100
	}

	return Stats{
		TotalKeys: int64(len(m.entries)),
		Hits:      m.hits,
		Misses:    m.misses,
		HitRate:   hitRate,
	}, nil
}
