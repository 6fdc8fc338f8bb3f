package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	errs "queryopt/pkg/error"
	"queryopt/pkg/logger"
)

// EnvPrefix 环境变量前缀，例如 QUERYOPT_OPTIMIZER_DEFAULT_TTL=10m
const EnvPrefix = "QUERYOPT"

// Config 主配置结构
type Config struct {
	// 查询优化器配置
	Optimizer OptimizerConfig `json:"optimizer" mapstructure:"optimizer"`

	// 后台刷新配置
	Refresh RefreshConfig `json:"refresh" mapstructure:"refresh"`

	// 过期清理配置
	Sweep SweepConfig `json:"sweep" mapstructure:"sweep"`

	// 报表发布配置
	Publisher PublisherConfig `json:"publisher" mapstructure:"publisher"`

	// 管理接口配置
	Server ServerConfig `json:"server" mapstructure:"server"`

	// 日志配置
	Logger logger.Config `json:"logger" mapstructure:"logger"`
}

// OptimizerConfig 查询缓存与去重执行器配置
type OptimizerConfig struct {
	DefaultTTL         time.Duration `json:"default_ttl" mapstructure:"default_ttl"`                   // 新缓存条目的默认生存时间
	Timeout            time.Duration `json:"timeout" mapstructure:"timeout"`                           // 单次查询的超时时间
	StatsCapacity      int           `json:"stats_capacity" mapstructure:"stats_capacity"`             // 统计日志保留的最大条数
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" mapstructure:"slow_query_threshold"` // 慢查询阈值
	ReportWindow       time.Duration `json:"report_window" mapstructure:"report_window"`               // 默认报表时间窗口
	TopN               int           `json:"top_n" mapstructure:"top_n"`                               // 慢查询与高频查询列表长度
}

// RefreshConfig 后台刷新（stale-while-revalidate）限流配置
type RefreshConfig struct {
	RatePerSecond float64 `json:"rate_per_second" mapstructure:"rate_per_second"` // 每秒允许的后台刷新数，0 表示不限
	Burst         int     `json:"burst" mapstructure:"burst"`                     // 令牌桶容量
}

// SweepConfig 过期条目清理配置
type SweepConfig struct {
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron 表达式，空字符串表示禁用
}

// PublisherConfig 报表发布配置
type PublisherConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	Schedule string        `json:"schedule" mapstructure:"schedule"` // cron 表达式
	Window   time.Duration `json:"window" mapstructure:"window"`     // 发布报表的统计窗口
	Redis    RedisConfig   `json:"redis" mapstructure:"redis"`
	Influx   InfluxConfig  `json:"influx" mapstructure:"influx"`
}

// RedisConfig Redis 报表输出端配置
type RedisConfig struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	Addr      string        `json:"addr" mapstructure:"addr"`
	Password  string        `json:"password" mapstructure:"password"`
	DB        int           `json:"db" mapstructure:"db"`
	KeyPrefix string        `json:"key_prefix" mapstructure:"key_prefix"`
	Channel   string        `json:"channel" mapstructure:"channel"`
	TTL       time.Duration `json:"ttl" mapstructure:"ttl"`
}

// InfluxConfig InfluxDB 报表输出端配置
type InfluxConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Token   string `json:"token" mapstructure:"token"`
	Org     string `json:"org" mapstructure:"org"`
	Bucket  string `json:"bucket" mapstructure:"bucket"`
}

// ServerConfig 管理接口配置
type ServerConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
	Mode    string `json:"mode" mapstructure:"mode"` // debug, release, test
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Optimizer: OptimizerConfig{
			DefaultTTL:         5 * time.Minute,
			Timeout:            30 * time.Second,
			StatsCapacity:      1000,
			SlowQueryThreshold: time.Second,
			ReportWindow:       time.Hour,
			TopN:               10,
		},
		Refresh: RefreshConfig{
			RatePerSecond: 0,
			Burst:         1,
		},
		Sweep: SweepConfig{
			Schedule: "@every 1m",
		},
		Publisher: PublisherConfig{
			Enabled:  false,
			Schedule: "@every 30s",
			Window:   time.Hour,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "queryopt:report:",
				Channel:   "queryopt:reports",
				TTL:       10 * time.Minute,
			},
			Influx: InfluxConfig{
				URL:    "http://localhost:8086",
				Org:    "queryopt",
				Bucket: "query_cache",
			},
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
			Mode:    "release",
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	o := c.Optimizer
	if o.DefaultTTL <= 0 {
		return invalid("optimizer.default_ttl must be positive")
	}
	if o.Timeout <= 0 {
		return invalid("optimizer.timeout must be positive")
	}
	if o.StatsCapacity <= 0 {
		return invalid("optimizer.stats_capacity must be positive")
	}
	if o.SlowQueryThreshold <= 0 {
		return invalid("optimizer.slow_query_threshold must be positive")
	}
	if o.ReportWindow <= 0 {
		return invalid("optimizer.report_window must be positive")
	}
	if o.TopN <= 0 {
		return invalid("optimizer.top_n must be positive")
	}

	if c.Refresh.RatePerSecond < 0 {
		return invalid("refresh.rate_per_second cannot be negative")
	}
	if c.Refresh.RatePerSecond > 0 && c.Refresh.Burst <= 0 {
		return invalid("refresh.burst must be positive when rate_per_second is set")
	}

	if c.Sweep.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			return errs.WrapError(errs.ErrConfigInvalid, "sweep.schedule is not a valid cron spec", err)
		}
	}

	if c.Publisher.Enabled {
		if _, err := cron.ParseStandard(c.Publisher.Schedule); err != nil {
			return errs.WrapError(errs.ErrConfigInvalid, "publisher.schedule is not a valid cron spec", err)
		}
		if c.Publisher.Window <= 0 {
			return invalid("publisher.window must be positive")
		}
		if c.Publisher.Redis.Enabled && c.Publisher.Redis.Addr == "" {
			return invalid("publisher.redis.addr cannot be empty")
		}
		if c.Publisher.Influx.Enabled && (c.Publisher.Influx.URL == "" || c.Publisher.Influx.Bucket == "") {
			return invalid("publisher.influx.url and bucket cannot be empty")
		}
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return invalid("server.addr cannot be empty")
	}

	return nil
}

func invalid(msg string) error {
	return errs.NewError(errs.ErrConfigInvalid, msg)
}

// Load 使用 viper 加载配置：默认值 < 配置文件 < 环境变量。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("配置文件不存在: %s", path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults 把默认配置逐项注册到 viper，使 AutomaticEnv 能覆盖每个键
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("optimizer.default_ttl", d.Optimizer.DefaultTTL)
	v.SetDefault("optimizer.timeout", d.Optimizer.Timeout)
	v.SetDefault("optimizer.stats_capacity", d.Optimizer.StatsCapacity)
	v.SetDefault("optimizer.slow_query_threshold", d.Optimizer.SlowQueryThreshold)
	v.SetDefault("optimizer.report_window", d.Optimizer.ReportWindow)
	v.SetDefault("optimizer.top_n", d.Optimizer.TopN)

	v.SetDefault("refresh.rate_per_second", d.Refresh.RatePerSecond)
	v.SetDefault("refresh.burst", d.Refresh.Burst)

	v.SetDefault("sweep.schedule", d.Sweep.Schedule)

	v.SetDefault("publisher.enabled", d.Publisher.Enabled)
	v.SetDefault("publisher.schedule", d.Publisher.Schedule)
	v.SetDefault("publisher.window", d.Publisher.Window)
	v.SetDefault("publisher.redis.enabled", d.Publisher.Redis.Enabled)
	v.SetDefault("publisher.redis.addr", d.Publisher.Redis.Addr)
	v.SetDefault("publisher.redis.password", d.Publisher.Redis.Password)
	v.SetDefault("publisher.redis.db", d.Publisher.Redis.DB)
	v.SetDefault("publisher.redis.key_prefix", d.Publisher.Redis.KeyPrefix)
	v.SetDefault("publisher.redis.channel", d.Publisher.Redis.Channel)
	v.SetDefault("publisher.redis.ttl", d.Publisher.Redis.TTL)
	v.SetDefault("publisher.influx.enabled", d.Publisher.Influx.Enabled)
	v.SetDefault("publisher.influx.url", d.Publisher.Influx.URL)
	v.SetDefault("publisher.influx.token", d.Publisher.Influx.Token)
	v.SetDefault("publisher.influx.org", d.Publisher.Influx.Org)
	v.SetDefault("publisher.influx.bucket", d.Publisher.Influx.Bucket)

	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.mode", d.Server.Mode)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
}
