package cache

import "time"

// Entry 代表缓存中的一个条目。
type Entry struct {
	Key      string        `json:"key"`
	Value    interface{}   `json:"value"`
	StoredAt time.Time     `json:"stored_at"` // 写入时间
	TTL      time.Duration `json:"ttl"`       // 生存时间
}

// Age 返回条目在 now 时刻的年龄
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// IsFresh 条目在 now 时刻是否仍然有效：now - StoredAt < TTL
func (e Entry) IsFresh(now time.Time) bool {
	return e.Age(now) < e.TTL
}

// IsExpired 与 IsFresh 相反，清理时使用
func (e Entry) IsExpired(now time.Time) bool {
	return !e.IsFresh(now)
}
