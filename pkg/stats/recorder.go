package stats

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultCapacity 统计日志默认保留条数
	DefaultCapacity = 1000
	// DefaultSlowThreshold 慢查询默认阈值
	DefaultSlowThreshold = time.Second
	// DefaultTopN 慢查询与高频查询列表默认长度
	DefaultTopN = 10
	// DefaultWindow 默认报表窗口
	DefaultWindow = time.Hour
)

// QueryStat 一次 Execute 调用的结果记录
type QueryStat struct {
	Key           string        `json:"key"`
	ExecutionTime time.Duration `json:"execution_time"`
	CacheHit      bool          `json:"cache_hit"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// CacheStats 报表中的缓存状态
type CacheStats struct {
	Size int `json:"size"`
}

// KeyCount 某个键在窗口内的调用次数
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Report 性能报表
type Report struct {
	GeneratedAt      time.Time     `json:"generated_at"`
	Window           time.Duration `json:"window"`
	CacheStats       CacheStats    `json:"cache_stats"`
	TotalQueries     int           `json:"total_queries"`
	CacheHits        int           `json:"cache_hits"`
	HitRate          float64       `json:"hit_rate"` // 百分比，0-100
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
	SlowQueries      []QueryStat   `json:"slow_queries"`
	FrequentQueries  []KeyCount    `json:"frequent_queries"`
}

// Config 统计记录器配置
type Config struct {
	Capacity      int
	SlowThreshold time.Duration
	TopN          int
}

// Recorder 有界的查询统计日志，超出容量时丢弃最旧的记录。
// 只用于观测，清空它不影响缓存行为。
type Recorder struct {
	mu            sync.Mutex
	stats         []QueryStat
	capacity      int
	slowThreshold time.Duration
	topN          int
	now           func() time.Time
}

// NewRecorder 创建统计记录器，零值字段使用默认值
func NewRecorder(cfg Config) *Recorder {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultSlowThreshold
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	return &Recorder{
		stats:         make([]QueryStat, 0, cfg.Capacity),
		capacity:      cfg.Capacity,
		slowThreshold: cfg.SlowThreshold,
		topN:          cfg.TopN,
		now:           time.Now,
	}
}

// SetClock 替换时钟，测试中使用
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Record 追加一条记录，RecordedAt 为空时填当前时间
func (r *Recorder) Record(stat QueryStat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stat.RecordedAt.IsZero() {
		stat.RecordedAt = r.now()
	}
	r.stats = append(r.stats, stat)

	if over := len(r.stats) - r.capacity; over > 0 {
		// 复制到新切片，释放被丢弃部分占用的底层数组
		kept := make([]QueryStat, r.capacity, r.capacity)
		copy(kept, r.stats[over:])
		r.stats = kept
	}
}

// Len 当前记录数
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats)
}

// Snapshot 返回全部记录的副本，按记录顺序
func (r *Recorder) Snapshot() []QueryStat {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]QueryStat, len(r.stats))
	copy(out, r.stats)
	return out
}

// Reset 清空统计日志
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.stats = make([]QueryStat, 0, r.capacity)
	r.mu.Unlock()
}

// Report 统计 window 内的记录。window <= 0 时使用默认窗口。
func (r *Recorder) Report(window time.Duration, cacheSize int) Report {
	if window <= 0 {
		window = DefaultWindow
	}

	r.mu.Lock()
	now := r.now()
	since := now.Add(-window)
	inWindow := make([]QueryStat, 0, len(r.stats))
	for _, s := range r.stats {
		if !s.RecordedAt.Before(since) {
			inWindow = append(inWindow, s)
		}
	}
	slowThreshold := r.slowThreshold
	topN := r.topN
	r.mu.Unlock()

	report := Report{
		GeneratedAt:     now,
		Window:          window,
		CacheStats:      CacheStats{Size: cacheSize},
		TotalQueries:    len(inWindow),
		SlowQueries:     []QueryStat{},
		FrequentQueries: []KeyCount{},
	}
	if len(inWindow) == 0 {
		return report
	}

	var total time.Duration
	counts := make(map[string]int)
	for _, s := range inWindow {
		total += s.ExecutionTime
		if s.CacheHit {
			report.CacheHits++
		}
		if s.ExecutionTime > slowThreshold {
			report.SlowQueries = append(report.SlowQueries, s)
		}
		counts[s.Key]++
	}

	report.HitRate = float64(report.CacheHits) / float64(len(inWindow)) * 100
	report.AvgExecutionTime = total / time.Duration(len(inWindow))

	sort.SliceStable(report.SlowQueries, func(i, j int) bool {
		return report.SlowQueries[i].ExecutionTime > report.SlowQueries[j].ExecutionTime
	})
	if len(report.SlowQueries) > topN {
		report.SlowQueries = report.SlowQueries[:topN]
	}

	for key, n := range counts {
		report.FrequentQueries = append(report.FrequentQueries, KeyCount{Key: key, Count: n})
	}
	sort.Slice(report.FrequentQueries, func(i, j int) bool {
		a, b := report.FrequentQueries[i], report.FrequentQueries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Key < b.Key
	})
	if len(report.FrequentQueries) > topN {
		report.FrequentQueries = report.FrequentQueries[:topN]
	}

	return report
}
