package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"queryopt/pkg/api"
	"queryopt/pkg/config"
	"queryopt/pkg/logger"
	"queryopt/pkg/metrics"
	"queryopt/pkg/optimizer"
	"queryopt/pkg/publisher"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (例如 ./config/queryopt.yaml)")
	logLevel   = flag.String("log-level", "", "日志级别 (debug, info, warn, error)，覆盖配置文件")
	logFormat  = flag.String("log-format", "", "日志格式 (json or text)，覆盖配置文件")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logger.Format = *logFormat
	}
	logger.Init(cfg.Logger)
	log := logger.WithComponent("main")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		log.WithError(err).Fatal("注册指标失败")
	}

	opt, err := optimizer.New(cfg, optimizer.WithObserver(collector))
	if err != nil {
		log.WithError(err).Fatal("创建优化器失败")
	}
	if err := opt.Start(); err != nil {
		log.WithError(err).Fatal("启动过期清理失败")
	}

	var pub *publisher.Publisher
	if cfg.Publisher.Enabled {
		pub, err = newPublisher(cfg.Publisher, opt, log)
		if err != nil {
			log.WithError(err).Fatal("创建报表发布器失败")
		}
		if err := pub.Start(); err != nil {
			log.WithError(err).Fatal("启动报表发布失败")
		}
	}

	var server *api.Server
	if cfg.Server.Enabled {
		opts := []api.Option{api.WithGatherer(reg)}
		if pub != nil {
			opts = append(opts, api.WithPublisher(pub))
		}
		server = api.NewServer(cfg.Server, opt, opts...)
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("启动管理接口失败")
		}
	}

	log.WithFields(logrus.Fields{
		"default_ttl": cfg.Optimizer.DefaultTTL,
		"timeout":     cfg.Optimizer.Timeout,
		"publisher":   cfg.Publisher.Enabled,
		"server":      cfg.Server.Enabled,
	}).Info("queryopt 已启动")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("正在关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Stop(ctx); err != nil {
			log.WithError(err).Error("关闭管理接口失败")
		}
	}
	if pub != nil {
		if err := pub.Stop(); err != nil {
			log.WithError(err).Error("关闭报表发布失败")
		}
	}
	if err := opt.Close(); err != nil {
		log.WithError(err).Error("关闭优化器失败")
	}
	log.Info("已退出")
}

// newPublisher 按配置创建启用的输出端
func newPublisher(cfg config.PublisherConfig, opt *optimizer.Optimizer, log *logrus.Entry) (*publisher.Publisher, error) {
	var sinks []publisher.Sink

	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sink, err := publisher.DialRedisSink(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
		log.WithField("addr", cfg.Redis.Addr).Info("Redis 报表输出端已连接")
	}

	if cfg.Influx.Enabled {
		sinks = append(sinks, publisher.NewInfluxSink(cfg.Influx))
		log.WithField("url", cfg.Influx.URL).Info("InfluxDB 报表输出端已启用")
	}

	if len(sinks) == 0 {
		log.Warn("报表发布已启用但没有配置输出端")
	}
	return publisher.New(cfg, opt, sinks...), nil
}
