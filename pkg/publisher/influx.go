package publisher

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"queryopt/pkg/config"
	errs "queryopt/pkg/error"
)

// Measurement 报表写入 InfluxDB 时使用的 measurement
const Measurement = "query_cache"

// InfluxSink 每次发布写入一个数据点
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink 按配置创建输出端
func NewInfluxSink(cfg config.InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (s *InfluxSink) Name() string { return "influxdb" }

// Publish 写入命中率、平均耗时等字段
func (s *InfluxSink) Publish(ctx context.Context, pub Publication) error {
	r := pub.Report
	point := influxdb2.NewPoint(
		Measurement,
		map[string]string{
			"window": r.Window.String(),
		},
		map[string]interface{}{
			"hit_rate":         r.HitRate,
			"avg_execution_ms": float64(r.AvgExecutionTime.Microseconds()) / 1000,
			"total_queries":    r.TotalQueries,
			"cache_size":       r.CacheStats.Size,
			"slow_queries":     len(r.SlowQueries),
		},
		pub.PublishedAt,
	)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return errs.WrapError(errs.ErrSinkUnavailable, "influxdb write failed", err)
	}
	return nil
}

func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
