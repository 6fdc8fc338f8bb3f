package cache

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "queryopt/pkg/error"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seeded(t *testing.T, keys ...string) *Store {
	t.Helper()
	s := NewStore()
	for _, k := range keys {
		s.Set(k, k+"-value", time.Minute)
	}
	require.Equal(t, len(keys), s.Size())
	return s
}

func TestStore_SetGet(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	s.Set("user:1", map[string]string{"name": "alice"}, time.Minute)

	e, ok := s.Get("user:1")
	require.True(t, ok)
	assert.Equal(t, "user:1", e.Key)
	assert.Equal(t, map[string]string{"name": "alice"}, e.Value)
	assert.Equal(t, clock.Now(), e.StoredAt)
	assert.True(t, e.IsFresh(clock.Now()))

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_GetDoesNotEvictExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	s.Set("k", 1, time.Second)

	clock.Advance(2 * time.Second)

	e, ok := s.Get("k")
	require.True(t, ok, "过期条目仍应可读")
	assert.False(t, e.IsFresh(clock.Now()))
	assert.Equal(t, 1, s.Size(), "Get 不应删除条目")
}

func TestStore_SetOverwrites(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	s.Set("k", "v1", time.Second)

	clock.Advance(500 * time.Millisecond)
	s.Set("k", "v2", time.Minute)

	e, _ := s.Get("k")
	assert.Equal(t, "v2", e.Value)
	assert.Equal(t, time.Minute, e.TTL)
	assert.Equal(t, clock.Now(), e.StoredAt)
}

func TestEntry_FreshnessBoundary(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Entry{StoredAt: base, TTL: time.Second}

	assert.True(t, e.IsFresh(base.Add(999*time.Millisecond)))
	assert.False(t, e.IsFresh(base.Add(time.Second)), "age == ttl 视为过期")
	assert.True(t, e.IsExpired(base.Add(time.Second)))
	assert.Equal(t, 300*time.Millisecond, e.Age(base.Add(300*time.Millisecond)))
}

func TestStore_Invalidate(t *testing.T) {
	tests := []struct {
		name      string
		matcher   Matcher
		wantCount int
		wantKeys  []string
	}{
		{"无匹配器清空全部", nil, 3, []string{}},
		{"All清空全部", All(), 3, []string{}},
		{"前缀匹配", Key("user:"), 2, []string{"order:1"}},
		{"完整键同时按前缀匹配", Key("user:1"), 1, []string{"order:1", "user:2"}},
		{"精确匹配", Exact("user:"), 0, []string{"order:1", "user:1", "user:2"}},
		{"判定函数", Predicate(func(k string) bool { return strings.HasSuffix(k, ":1") }), 2, []string{"user:2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seeded(t, "user:1", "user:2", "order:1")
			assert.Equal(t, tt.wantCount, s.Invalidate(tt.matcher))
			assert.Equal(t, tt.wantKeys, s.Keys())
		})
	}
}

func TestStore_InvalidatePrefixAlsoMatchesLongerKeys(t *testing.T) {
	s := seeded(t, "user:1", "user:10", "user:2")
	assert.Equal(t, 2, s.Invalidate(Key("user:1")))
	assert.Equal(t, []string{"user:2"}, s.Keys())
}

func TestPattern(t *testing.T) {
	m, err := Pattern("user:*:profile")
	require.NoError(t, err)

	s := seeded(t, "user:1:profile", "user:2:profile", "user:1:orders")
	assert.Equal(t, 2, s.Invalidate(m))
	assert.Equal(t, []string{"user:1:orders"}, s.Keys())

	_, err = Pattern("user:[")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.ErrInvalidRequest))
}

func TestStore_SweepExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	s.Set("short", 1, time.Second)
	s.Set("long", 2, time.Hour)

	assert.Equal(t, 0, s.SweepExpired(clock.Now()))

	// age == ttl 时被清理
	assert.Equal(t, 1, s.SweepExpired(clock.Now().Add(time.Second)))
	assert.Equal(t, []string{"long"}, s.Keys())
}

func TestStore_Reset(t *testing.T) {
	s := seeded(t, "a", "b")
	s.Reset()
	assert.Equal(t, 0, s.Size())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			for j := 0; j < 100; j++ {
				s.Set(key, j, time.Minute)
				s.Get(key)
				s.Keys()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, s.Size())
}
