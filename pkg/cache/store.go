package cache

import (
	"sort"
	"sync"
	"time"
)

// Store 线程安全的内存缓存，按键保存查询结果。
// Get 从不修改状态，也不删除过期条目；新鲜度由调用方判断。
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// StoreOption 配置 Store
type StoreOption func(*Store)

// WithClock 替换时钟，测试中使用
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore 创建新的缓存
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get 获取缓存条目的副本，过期条目同样返回
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	return e, ok
}

// Set 无条件覆盖，StoredAt 设为当前时间
func (s *Store) Set(key string, value interface{}, ttl time.Duration) Entry {
	e := Entry{
		Key:      key,
		Value:    value,
		StoredAt: s.now(),
		TTL:      ttl,
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()

	return e
}

// Invalidate 删除所有匹配的条目，返回删除数量。m 为 nil 时清空缓存。
func (s *Store) Invalidate(m Matcher) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == nil {
		n := len(s.entries)
		s.entries = make(map[string]Entry)
		return n
	}

	removed := 0
	for key := range s.entries {
		if m(key) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// SweepExpired 删除 now - StoredAt >= TTL 的条目，返回删除数量
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.IsExpired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Size 当前条目数，包括尚未清理的过期条目
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys 返回排序后的全部键
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Reset 清空缓存
func (s *Store) Reset() {
	s.Invalidate(nil)
}
