package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errs "queryopt/pkg/error"
	"queryopt/pkg/optimizer"
)

const namespace = "queryopt"

// Collector 把优化器事件导出为 prometheus 指标。
// 标签不包含查询键，避免基数膨胀。
type Collector struct {
	queries   *prometheus.CounterVec
	errors    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	refreshes *prometheus.CounterVec
	evictions *prometheus.CounterVec
	cacheSize prometheus.Gauge
	inFlight  prometheus.Gauge
}

var _ optimizer.Observer = (*Collector)(nil)

// NewCollector 创建指标收集器并注册到 reg
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of Execute calls by outcome",
			},
			[]string{"outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_errors_total",
				Help:      "Number of failed Execute calls by error code",
			},
			[]string{"code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Execute latency in seconds by outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "background_refreshes_total",
				Help:      "Number of stale-while-revalidate refreshes by result",
			},
			[]string{"result"},
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evicted_entries_total",
				Help:      "Number of cache entries removed by reason",
			},
			[]string{"reason"},
		),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of cache entries",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_queries",
			Help:      "Current number of in-flight queries",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.queries, c.errors, c.duration, c.refreshes, c.evictions, c.cacheSize, c.inFlight,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveQuery 记录一次 Execute 调用
func (c *Collector) ObserveQuery(_ string, outcome optimizer.Outcome, elapsed time.Duration, err error) {
	c.queries.WithLabelValues(string(outcome)).Inc()
	c.duration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	if err != nil {
		code := string(errs.CodeOf(err))
		if code == "" {
			code = "FETCH_ERROR"
		}
		c.errors.WithLabelValues(code).Inc()
	}
}

// ObserveRefresh 记录一次后台刷新
func (c *Collector) ObserveRefresh(_ string, result optimizer.RefreshResult) {
	c.refreshes.WithLabelValues(string(result)).Inc()
}

// ObserveEviction 记录被删除的条目数
func (c *Collector) ObserveEviction(reason string, removed int) {
	c.evictions.WithLabelValues(reason).Add(float64(removed))
}

func (c *Collector) SetCacheSize(size int) {
	c.cacheSize.Set(float64(size))
}

func (c *Collector) SetInFlight(n int) {
	c.inFlight.Set(float64(n))
}
