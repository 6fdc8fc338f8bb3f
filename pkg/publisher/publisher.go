package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"queryopt/pkg/config"
	errs "queryopt/pkg/error"
	"queryopt/pkg/logger"
	"queryopt/pkg/stats"
)

// Publication 一次发布的报表
type Publication struct {
	ID          string       `json:"id"`
	PublishedAt time.Time    `json:"published_at"`
	Report      stats.Report `json:"report"`
}

// Sink 报表输出端
type Sink interface {
	Name() string
	Publish(ctx context.Context, pub Publication) error
	Close() error
}

// ReportSource 报表来源，通常是 *optimizer.Optimizer
type ReportSource interface {
	PerformanceReport(window time.Duration) stats.Report
}

// Publisher 按计划生成性能报表并发送到所有输出端。
// 输出端失败只记录日志，不影响缓存。
type Publisher struct {
	source   ReportSource
	sinks    []Sink
	schedule string
	window   time.Duration
	timeout  time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	cron    *cron.Cron
	last    *Publication
	running bool
}

// New 创建发布器
func New(cfg config.PublisherConfig, source ReportSource, sinks ...Sink) *Publisher {
	return &Publisher{
		source:   source,
		sinks:    sinks,
		schedule: cfg.Schedule,
		window:   cfg.Window,
		timeout:  10 * time.Second,
		log:      logger.WithComponent("publisher"),
	}
}

// PublishNow 立即生成一份报表并发送到所有输出端，返回合并后的错误
func (p *Publisher) PublishNow(ctx context.Context) (Publication, error) {
	pub := Publication{
		ID:          uuid.New().String(),
		PublishedAt: time.Now(),
		Report:      p.source.PerformanceReport(p.window),
	}

	var failed []error
	for _, s := range p.sinks {
		if err := s.Publish(ctx, pub); err != nil {
			p.log.WithFields(logrus.Fields{
				"sink":  s.Name(),
				"id":    pub.ID,
				"error": err,
			}).Warn("报表发布失败")
			failed = append(failed, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	p.mu.Lock()
	p.last = &pub
	p.mu.Unlock()

	if len(failed) > 0 {
		return pub, errs.WrapError(errs.ErrSinkUnavailable, "publish report", errors.Join(failed...))
	}

	p.log.WithFields(logrus.Fields{
		"id":       pub.ID,
		"sinks":    len(p.sinks),
		"hit_rate": pub.Report.HitRate,
	}).Debug("报表已发布")
	return pub, nil
}

// Last 最近一次发布的报表
func (p *Publisher) Last() (Publication, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Publication{}, false
	}
	return *p.last, true
}

// Start 按计划开始发布
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("publisher is already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		_, _ = p.PublishNow(ctx)
	}); err != nil {
		return errs.WrapError(errs.ErrConfigInvalid, "invalid publisher schedule", err)
	}
	c.Start()

	p.cron = c
	p.running = true
	p.log.WithField("schedule", p.schedule).Info("报表发布已启动")
	return nil
}

// Stop 停止计划任务，等待正在进行的发布结束，然后关闭所有输出端
func (p *Publisher) Stop() error {
	p.mu.Lock()
	c := p.cron
	wasRunning := p.running
	p.running = false
	p.cron = nil
	p.mu.Unlock()

	if wasRunning && c != nil {
		<-c.Stop().Done()
	}

	var failed []error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(failed...)
}
