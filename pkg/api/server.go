package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"queryopt/pkg/cache"
	"queryopt/pkg/config"
	errs "queryopt/pkg/error"
	"queryopt/pkg/logger"
	"queryopt/pkg/publisher"
	"queryopt/pkg/stats"
)

// Backend 管理接口操作的缓存，通常是 *optimizer.Optimizer
type Backend interface {
	Get(key string) (cache.Entry, bool)
	Invalidate(m cache.Matcher) int
	Sweep() int
	PerformanceReport(window time.Duration) stats.Report
	CacheSize() int
	InFlight() int
	Keys() []string
}

// LatestReporter 提供最近一次发布的报表，通常是 *publisher.Publisher
type LatestReporter interface {
	Last() (publisher.Publication, bool)
}

// Server 管理接口
type Server struct {
	backend  Backend
	latest   LatestReporter
	gatherer prometheus.Gatherer
	log      *logrus.Entry

	router *gin.Engine
	server *http.Server
}

// Option 配置 Server
type Option func(*Server)

// WithPublisher 启用 /api/v1/report/latest
func WithPublisher(p LatestReporter) Option {
	return func(s *Server) { s.latest = p }
}

// WithGatherer 启用 /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger 替换日志器
func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// InvalidateRequest 失效请求，All、Key、Exact、Pattern 必须且只能设置一个
type InvalidateRequest struct {
	All     bool   `json:"all"`
	Key     string `json:"key"`     // 精确或前缀
	Exact   string `json:"exact"`   // 仅精确
	Pattern string `json:"pattern"` // glob
}

// RemovedResponse 删除数量
type RemovedResponse struct {
	Removed int `json:"removed"`
}

// NewServer 创建管理接口
func NewServer(cfg config.ServerConfig, backend Backend, opts ...Option) *Server {
	s := &Server{
		backend: backend,
		log:     logger.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/report", s.getReport)
		v1.GET("/report/latest", s.getLatestReport)
		v1.GET("/cache/keys", s.getKeys)
		v1.GET("/cache/entry", s.getEntry)
		v1.POST("/cache/invalidate", s.invalidate)
		v1.POST("/cache/sweep", s.sweep)
	}

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

// Handler 返回 HTTP 处理器，测试中使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 在后台监听
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("管理接口启动")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("管理接口异常退出")
		}
	}()
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("请求完成")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"cache_size": s.backend.CacheSize(),
		"in_flight":  s.backend.InFlight(),
		"timestamp":  time.Now(),
	})
}

func (s *Server) getReport(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.fail(c, http.StatusBadRequest, errs.Newf(errs.ErrInvalidRequest, "invalid window %q", raw))
			return
		}
		window = d
	}
	c.JSON(http.StatusOK, s.backend.PerformanceReport(window))
}

func (s *Server) getLatestReport(c *gin.Context) {
	if s.latest == nil {
		s.fail(c, http.StatusNotFound, errs.NewError(errs.ErrInvalidRequest, "publisher is not enabled"))
		return
	}
	pub, ok := s.latest.Last()
	if !ok {
		s.fail(c, http.StatusNotFound, errs.NewError(errs.ErrInvalidRequest, "no report published yet"))
		return
	}
	c.JSON(http.StatusOK, pub)
}

func (s *Server) getKeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"keys": s.backend.Keys()})
}

// EntryResponse 单个缓存条目
type EntryResponse struct {
	Key      string        `json:"key"`
	Value    interface{}   `json:"value"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
}

func (s *Server) getEntry(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		s.fail(c, http.StatusBadRequest, errs.NewError(errs.ErrInvalidRequest, "key is required"))
		return
	}
	e, ok := s.backend.Get(key)
	if !ok {
		s.fail(c, http.StatusNotFound, errs.Newf(errs.ErrCacheMiss, "no cache entry for %q", key))
		return
	}
	c.JSON(http.StatusOK, EntryResponse{
		Key:      e.Key,
		Value:    e.Value,
		StoredAt: e.StoredAt,
		TTL:      e.TTL,
	})
}

func (s *Server) invalidate(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, errs.WrapError(errs.ErrInvalidRequest, "invalid request body", err))
		return
	}

	m, err := req.matcher()
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	removed := s.backend.Invalidate(m)
	s.log.WithFields(logrus.Fields{
		"request": req,
		"removed": removed,
	}).Info("缓存已失效")
	c.JSON(http.StatusOK, RemovedResponse{Removed: removed})
}

func (s *Server) sweep(c *gin.Context) {
	c.JSON(http.StatusOK, RemovedResponse{Removed: s.backend.Sweep()})
}

// matcher 把请求转换为缓存匹配器
func (r InvalidateRequest) matcher() (cache.Matcher, error) {
	set := 0
	for _, ok := range []bool{r.All, r.Key != "", r.Exact != "", r.Pattern != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, errs.NewError(errs.ErrInvalidRequest, "exactly one of all, key, exact, pattern is required")
	}

	switch {
	case r.All:
		return cache.All(), nil
	case r.Key != "":
		return cache.Key(r.Key), nil
	case r.Exact != "":
		return cache.Exact(r.Exact), nil
	default:
		return cache.Pattern(r.Pattern)
	}
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	code := errs.CodeOf(err)
	if code == "" {
		code = errs.ErrInvalidRequest
	}
	c.JSON(status, ErrorResponse{Code: string(code), Message: err.Error()})
}
