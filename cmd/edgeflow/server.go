package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow"
	"github.com/BaSui01/edgeflow/api/handlers"
	"github.com/BaSui01/edgeflow/config"
	"github.com/BaSui01/edgeflow/internal/metrics"
	"github.com/BaSui01/edgeflow/internal/server"
	"github.com/BaSui01/edgeflow/internal/telemetry"
	"github.com/BaSui01/edgeflow/internal/tlsutil"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 EdgeFlow 的主服务器
type Server struct {
	cfg    *config.Config
	loader *config.Loader
	logger *zap.Logger
	otel   *telemetry.Providers

	runtime *edgeflow.Runtime

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler  *handlers.HealthHandler
	runtimeHandler *handlers.RuntimeHandler
	eventHub       *handlers.EventHub

	// 指标收集器，使用独立 registry
	registry         *prometheus.Registry
	metricsCollector *metrics.Collector

	// 配置文件监听，未指定配置文件时为 nil
	watcher *config.FileWatcher

	// 后台任务（限流清理、事件 hub、配置监听）的生命周期
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewServer 创建新的服务器实例。loader 带配置路径时启用热更新。
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger, otel *telemetry.Providers) *Server {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		loader:   loader,
		logger:   logger,
		otel:     otel,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化运行时并启动所有监听
func (s *Server) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	// 配置热更新
	if s.loader != nil && s.loader.ConfigPath() != "" {
		w, err := s.loader.Watch(s.bgCtx, s.logger, func(cfg *config.Config) {
			if err := s.runtime.Apply(cfg); err != nil {
				s.logger.Warn("config apply failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		s.watcher = w
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
	)
	return nil
}

// init 构建指标、运行时与 handlers，不打开任何端口
func (s *Server) init(ctx context.Context) error {
	// 1. 指标
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metricsCollector = metrics.NewCollector("edgeflow", s.registry, s.logger)

	// 2. 运行时
	rt, err := edgeflow.New(s.cfg,
		edgeflow.WithLogger(s.logger),
		edgeflow.WithMetrics(s.metricsCollector),
		edgeflow.WithTracer(s.otel.Tracer("edgeflow/component")),
	)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	s.runtime = rt

	// 3. 启动批次
	if res := rt.Start(ctx); res != nil && !res.AllReady() {
		s.logger.Warn("startup batch incomplete, /ready reports unhealthy", zap.Error(res.Err()))
	}

	// 4. Handlers
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewFuncCheck("runtime", func(context.Context) error {
		if !rt.Ready() {
			return errors.New("startup batch not ready")
		}
		return nil
	}))
	s.runtimeHandler = handlers.NewRuntimeHandler(rt, s.logger)
	s.eventHub = handlers.NewEventHub(rt.Tracker().Events(), handlers.DefaultMaxSubscribers, s.logger)
	go s.eventHub.Run(s.bgCtx)

	s.logger.Info("Handlers initialized")
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 构建 API 路由与中间件链
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 运行时视图
	mux.HandleFunc("/api/v1/providers", s.runtimeHandler.HandleProviders)
	mux.HandleFunc("/api/v1/modules", s.runtimeHandler.HandleModules)
	mux.HandleFunc("/api/v1/components", s.runtimeHandler.HandleComponents)
	mux.HandleFunc("/api/v1/models", s.runtimeHandler.HandleModels)
	mux.HandleFunc("/api/v1/events", s.eventHub.HandleEvents)

	// 管理端点，配置了 JWT 密钥时需要鉴权
	auth := JWTAuth(s.cfg.Server.JWTSecret, s.cfg.Server.JWTIssuer, s.logger)
	mux.Handle("/api/v1/memory-pressure", auth(http.HandlerFunc(s.runtimeHandler.HandleMemoryPressure)))

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(s.bgCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	return Chain(mux, chain...)
}

// startHTTPServer 启动 API 服务器，配置了证书时使用 HTTPS
func (s *Server) startHTTPServer() error {
	tlsConfig, err := tlsutil.ServerConfig(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	if err != nil {
		return err
	}

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		TLS:             tlsConfig,
	}

	s.httpManager = server.NewManager("api", s.routes(), serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号或服务器异常退出，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) error {
	var managers []*server.Manager
	for _, m := range []*server.Manager{s.httpManager, s.metricsManager} {
		if m != nil {
			managers = append(managers, m)
		}
	}
	cause := server.WaitForShutdown(ctx, s.logger, managers...)
	return errors.Join(cause, s.Shutdown(context.Background()))
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")
	var errs []error

	// 1. 停止配置监听
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("config watcher: %w", err))
		}
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	// 4. 停止后台任务
	s.bgCancel()

	// 5. 释放所有组件
	if s.runtime != nil {
		if err := s.runtime.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("runtime: %w", err))
		}
	}

	// 6. 刷新遥测数据
	if err := s.otel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Graceful shutdown finished with errors", zap.Error(err))
	} else {
		s.logger.Info("Graceful shutdown completed")
	}
	return err
}
