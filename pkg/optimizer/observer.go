package optimizer

import "time"

// Outcome Execute 调用的结果类型
type Outcome string

const (
	OutcomeHit    Outcome = "hit"    // 命中新鲜缓存
	OutcomeJoined Outcome = "joined" // 加入进行中的查询
	OutcomeMiss   Outcome = "miss"   // 执行了查询函数
)

// RefreshResult 后台刷新的结果
type RefreshResult string

const (
	RefreshOK      RefreshResult = "ok"
	RefreshFailed  RefreshResult = "failed"
	RefreshSkipped RefreshResult = "skipped" // 被限流跳过
)

// Observer 接收优化器的运行事件，用于指标导出
type Observer interface {
	ObserveQuery(key string, outcome Outcome, elapsed time.Duration, err error)
	ObserveRefresh(key string, result RefreshResult)
	ObserveEviction(reason string, removed int)
	SetCacheSize(size int)
	SetInFlight(n int)
}

// NoopObserver 丢弃所有事件
type NoopObserver struct{}

func (NoopObserver) ObserveQuery(string, Outcome, time.Duration, error) {}
func (NoopObserver) ObserveRefresh(string, RefreshResult)               {}
func (NoopObserver) ObserveEviction(string, int)                        {}
func (NoopObserver) SetCacheSize(int)                                   {}
func (NoopObserver) SetInFlight(int)                                    {}

var _ Observer = NoopObserver{}
