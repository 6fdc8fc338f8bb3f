package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "queryopt/pkg/error"
)

// TestDefault 测试默认配置是否正确
func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5*time.Minute, cfg.Optimizer.DefaultTTL)
	assert.Equal(t, 30*time.Second, cfg.Optimizer.Timeout)
	assert.Equal(t, 1000, cfg.Optimizer.StatsCapacity)
	assert.Equal(t, time.Second, cfg.Optimizer.SlowQueryThreshold)
	assert.Equal(t, time.Hour, cfg.Optimizer.ReportWindow)
	assert.Equal(t, 10, cfg.Optimizer.TopN)

	assert.Equal(t, "@every 1m", cfg.Sweep.Schedule)
	assert.False(t, cfg.Publisher.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logger.Level)
}

// TestValidate 测试配置验证功能
func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate(), "默认配置应该是有效的")

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"TTL为0", func(c *Config) { c.Optimizer.DefaultTTL = 0 }},
		{"超时为负", func(c *Config) { c.Optimizer.Timeout = -time.Second }},
		{"统计容量为0", func(c *Config) { c.Optimizer.StatsCapacity = 0 }},
		{"慢查询阈值为负", func(c *Config) { c.Optimizer.SlowQueryThreshold = -1 }},
		{"报表窗口为0", func(c *Config) { c.Optimizer.ReportWindow = 0 }},
		{"TopN为0", func(c *Config) { c.Optimizer.TopN = 0 }},
		{"刷新速率为负", func(c *Config) { c.Refresh.RatePerSecond = -1 }},
		{"限速但令牌桶为0", func(c *Config) {
			c.Refresh.RatePerSecond = 5
			c.Refresh.Burst = 0
		}},
		{"清理计划无效", func(c *Config) { c.Sweep.Schedule = "not a cron" }},
		{"发布计划无效", func(c *Config) {
			c.Publisher.Enabled = true
			c.Publisher.Schedule = "bogus"
		}},
		{"Redis地址为空", func(c *Config) {
			c.Publisher.Enabled = true
			c.Publisher.Redis.Enabled = true
			c.Publisher.Redis.Addr = ""
		}},
		{"Influx桶为空", func(c *Config) {
			c.Publisher.Enabled = true
			c.Publisher.Influx.Enabled = true
			c.Publisher.Influx.Bucket = ""
		}},
		{"服务地址为空", func(c *Config) { c.Server.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errs.HasCode(err, errs.ErrConfigInvalid))
		})
	}

	t.Run("空清理计划表示禁用", func(t *testing.T) {
		cfg := Default()
		cfg.Sweep.Schedule = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Optimizer, cfg.Optimizer)
	assert.Equal(t, Default().Publisher.Redis, cfg.Publisher.Redis)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queryopt.yaml")
	content := `
optimizer:
  default_ttl: 10m
  timeout: 2s
  stats_capacity: 50
refresh:
  rate_per_second: 2.5
  burst: 3
publisher:
  enabled: true
  schedule: "@every 10s"
  redis:
    enabled: true
    addr: "redis:6379"
server:
  mode: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("QUERYOPT_OPTIMIZER_TOP_N", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Optimizer.DefaultTTL)
	assert.Equal(t, 2*time.Second, cfg.Optimizer.Timeout)
	assert.Equal(t, 50, cfg.Optimizer.StatsCapacity)
	assert.Equal(t, 5, cfg.Optimizer.TopN, "环境变量应覆盖默认值")
	assert.Equal(t, time.Hour, cfg.Optimizer.ReportWindow, "未设置的键保留默认值")
	assert.Equal(t, 2.5, cfg.Refresh.RatePerSecond)
	assert.Equal(t, 3, cfg.Refresh.Burst)
	assert.True(t, cfg.Publisher.Enabled)
	assert.Equal(t, "redis:6379", cfg.Publisher.Redis.Addr)
	assert.Equal(t, "queryopt:reports", cfg.Publisher.Redis.Channel)
	assert.Equal(t, "debug", cfg.Server.Mode)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("/nonexistent/queryopt.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("optimizer:\n  stats_capacity: 0\n"), 0o644))

	_, err = Load(path)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.ErrConfigInvalid))
}
