package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"queryopt/pkg/cache"
	"queryopt/pkg/config"
	errs "queryopt/pkg/error"
	"queryopt/pkg/logger"
	"queryopt/pkg/runner"
	"queryopt/pkg/stats"
)

// Optimizer 查询结果缓存，合并同键并发查询，可选后台刷新，并记录统计。
type Optimizer struct {
	cfg   config.OptimizerConfig
	store *cache.Store
	stats *stats.Recorder

	inflight *inflightRegistry

	// 后台刷新：同键合并，令牌桶限流；limiter 为 nil 表示不限
	refreshGroup   singleflight.Group
	refreshLimiter *rate.Limiter

	sweepSchedule string
	cron          *cron.Cron

	observer Observer
	log      *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// New 创建优化器。cfg 为 nil 时使用默认配置。
func New(cfg *config.Config, opts ...Option) (*Optimizer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Optimizer{
		cfg:           cfg.Optimizer,
		inflight:      newInflightRegistry(),
		sweepSchedule: cfg.Sweep.Schedule,
		observer:      NoopObserver{},
		log:           logger.WithComponent("optimizer"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.store = cache.NewStore(cache.WithClock(o.now))
	o.stats = stats.NewRecorder(stats.Config{
		Capacity:      cfg.Optimizer.StatsCapacity,
		SlowThreshold: cfg.Optimizer.SlowQueryThreshold,
		TopN:          cfg.Optimizer.TopN,
	})
	o.stats.SetClock(o.now)

	if cfg.Refresh.RatePerSecond > 0 {
		o.refreshLimiter = rate.NewLimiter(rate.Limit(cfg.Refresh.RatePerSecond), cfg.Refresh.Burst)
	}

	return o, nil
}

// Execute 返回 key 对应的查询结果，必要时调用 fn 计算。
//
// 顺序：
//  1. 去重开启且同键查询进行中：等待其结果，记为命中；
//  2. 缓存新鲜：直接返回，记为命中，条目年龄超过 TTL 的 80% 且开启后台刷新时异步刷新；
//  3. 否则执行 fn（受超时限制），成功时写入缓存，记为未命中。
func (o *Optimizer) Execute(ctx context.Context, key string, fn runner.Func, opts ...ExecOption) (interface{}, error) {
	eo := execOptions{
		ttl:         o.cfg.DefaultTTL,
		deduplicate: true,
	}
	for _, opt := range opts {
		opt(&eo)
	}

	start := o.now()

	if !eo.deduplicate {
		return o.fetch(ctx, key, fn, eo.ttl, start)
	}

	if c, ok := o.inflight.lookup(key); ok {
		return o.wait(ctx, key, c, start)
	}

	if v, ok := o.cached(ctx, key, fn, eo, start); ok {
		return v, nil
	}

	c, leader := o.inflight.acquire(key)
	if !leader {
		// 在检查缓存与登记之间，另一个调用已经开始查询
		return o.wait(ctx, key, c, start)
	}
	o.observer.SetInFlight(o.inflight.len())

	return o.lead(ctx, key, c, fn, eo, start)
}

// cached 命中新鲜缓存时返回值，并按需触发后台刷新
func (o *Optimizer) cached(ctx context.Context, key string, fn runner.Func, eo execOptions, start time.Time) (interface{}, bool) {
	entry, ok := o.store.Get(key)
	if !ok {
		return nil, false
	}
	now := o.now()
	if !entry.IsFresh(now) {
		return nil, false
	}

	o.record(key, OutcomeHit, now.Sub(start), nil)

	if eo.staleWhileRevalidate && entry.Age(now) > refreshAfter(entry.TTL) {
		o.refresh(ctx, key, fn, eo.ttl)
	}
	return entry.Value, true
}

// wait 等待进行中的查询，结果与发起者一致
func (o *Optimizer) wait(ctx context.Context, key string, c *call, start time.Time) (interface{}, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	o.record(key, OutcomeJoined, o.now().Sub(start), c.err)
	return c.val, c.err
}

// lead 作为发起者启动查询。缓存写入先于登记移除，登记移除先于唤醒等待者。
// 查询与发起者的取消解耦，只受超时限制；发起者取消只放弃自己的等待。
func (o *Optimizer) lead(ctx context.Context, key string, c *call, fn runner.Func, eo execOptions, start time.Time) (interface{}, error) {
	shared := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			o.inflight.release(key, c)
			close(c.done)
			o.observer.SetInFlight(o.inflight.len())
		}()
		c.val, c.err = o.fetch(shared, key, fn, eo.ttl, start)
	}()

	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch 在超时限制内执行 fn，成功时写入缓存并记为未命中
func (o *Optimizer) fetch(ctx context.Context, key string, fn runner.Func, ttl time.Duration, start time.Time) (interface{}, error) {
	v, err := runner.RunWithTimeout(ctx, o.cfg.Timeout, fn)
	if err == nil {
		o.store.Set(key, v, ttl)
		o.observer.SetCacheSize(o.store.Size())
	}

	elapsed := o.now().Sub(start)
	o.record(key, OutcomeMiss, elapsed, err)

	if err != nil {
		o.log.WithFields(logrus.Fields{
			"key":      key,
			"duration": elapsed,
			"error":    err,
		}).Warn("查询失败")
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"key":      key,
		"duration": elapsed,
	}).Debug("查询完成并写入缓存")
	return v, nil
}

// refresh 在后台刷新 key。失败只记录日志，保留原有条目。
func (o *Optimizer) refresh(ctx context.Context, key string, fn runner.Func, ttl time.Duration) {
	if o.refreshLimiter != nil && !o.refreshLimiter.Allow() {
		o.observer.ObserveRefresh(key, RefreshSkipped)
		o.log.WithField("key", key).Debug("后台刷新被限流跳过")
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	// 与调用方的取消解耦，保留 ctx 中的值
	bg := context.WithoutCancel(ctx)

	go func() {
		defer o.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				o.observer.ObserveRefresh(key, RefreshFailed)
				o.log.WithField("key", key).Errorf("后台刷新 panic: %v", p)
			}
		}()

		_, err, shared := o.refreshGroup.Do(key, func() (interface{}, error) {
			v, err := runner.RunWithTimeout(bg, o.cfg.Timeout, fn)
			if err != nil {
				return nil, err
			}
			o.store.Set(key, v, ttl)
			o.observer.SetCacheSize(o.store.Size())
			return v, nil
		})
		if shared {
			return
		}

		if err != nil {
			o.observer.ObserveRefresh(key, RefreshFailed)
			o.log.WithFields(logrus.Fields{
				"key":   key,
				"error": err,
			}).Warn("后台刷新失败，保留原缓存")
			return
		}
		o.observer.ObserveRefresh(key, RefreshOK)
		o.log.WithField("key", key).Debug("后台刷新完成")
	}()
}

func (o *Optimizer) record(key string, outcome Outcome, elapsed time.Duration, err error) {
	o.stats.Record(stats.QueryStat{
		Key:           key,
		ExecutionTime: elapsed,
		CacheHit:      outcome != OutcomeMiss,
		RecordedAt:    o.now(),
	})
	o.observer.ObserveQuery(key, outcome, elapsed, err)
}

func refreshAfter(ttl time.Duration) time.Duration {
	return time.Duration(float64(ttl) * RefreshThreshold)
}

// Query 是 Execute 的泛型版本
func Query[T any](ctx context.Context, o *Optimizer, key string, fn func(ctx context.Context) (T, error), opts ...ExecOption) (T, error) {
	var zero T

	v, err := o.Execute(ctx, key, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}

	t, ok := v.(T)
	if !ok {
		return zero, errs.Newf(errs.ErrTypeMismatch, "cached value for %q is %T, want %T", key, v, zero).
			WithContext("key", key)
	}
	return t, nil
}

// Invalidate 删除匹配的缓存条目，返回删除数量。m 为 nil 时清空缓存。
func (o *Optimizer) Invalidate(m cache.Matcher) int {
	removed := o.store.Invalidate(m)
	o.observer.ObserveEviction("invalidate", removed)
	o.observer.SetCacheSize(o.store.Size())
	o.log.WithField("removed", removed).Debug("缓存失效")
	return removed
}

// SweepExpired 删除在 now 时刻已过期的条目
func (o *Optimizer) SweepExpired(now time.Time) int {
	removed := o.store.SweepExpired(now)
	o.observer.ObserveEviction("sweep", removed)
	o.observer.SetCacheSize(o.store.Size())
	if removed > 0 {
		o.log.WithField("removed", removed).Debug("清理过期缓存")
	}
	return removed
}

// Sweep 按优化器时钟清理过期条目
func (o *Optimizer) Sweep() int {
	return o.SweepExpired(o.now())
}

// PerformanceReport 统计 window 内的查询，window <= 0 时使用配置的默认窗口
func (o *Optimizer) PerformanceReport(window time.Duration) stats.Report {
	if window <= 0 {
		window = o.cfg.ReportWindow
	}
	return o.stats.Report(window, o.store.Size())
}

// Reset 清空缓存与统计，进行中的查询不受影响
func (o *Optimizer) Reset() {
	o.store.Reset()
	o.stats.Reset()
	o.observer.SetCacheSize(0)
}

// Get 读取缓存条目，不论是否新鲜
func (o *Optimizer) Get(key string) (cache.Entry, bool) {
	return o.store.Get(key)
}

// CacheSize 当前缓存条目数
func (o *Optimizer) CacheSize() int {
	return o.store.Size()
}

// Keys 当前缓存的全部键
func (o *Optimizer) Keys() []string {
	return o.store.Keys()
}

// InFlight 进行中的查询数
func (o *Optimizer) InFlight() int {
	return o.inflight.len()
}

// Stats 返回统计日志的副本
func (o *Optimizer) Stats() []stats.QueryStat {
	return o.stats.Snapshot()
}

// Start 按配置的计划启动过期清理。计划为空时不启动。
func (o *Optimizer) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("optimizer is closed")
	}
	if o.started || o.sweepSchedule == "" {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(o.sweepSchedule, func() { o.Sweep() }); err != nil {
		return errs.WrapError(errs.ErrConfigInvalid, "invalid sweep schedule", err)
	}
	c.Start()

	o.cron = c
	o.started = true
	o.log.WithField("schedule", o.sweepSchedule).Info("过期清理已启动")
	return nil
}

// Close 停止过期清理并等待后台刷新结束
func (o *Optimizer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	c := o.cron
	o.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	o.wg.Wait()

	o.log.Info("优化器已关闭")
	return nil
}
