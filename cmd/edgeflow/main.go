// =============================================================================
// EdgeFlow 主入口
// =============================================================================
// 运维服务入口点，包含运行时、HTTP 视图、事件推送、Prometheus 指标
//
// 使用方法:
//
//	edgeflow serve                        # 启动服务
//	edgeflow serve --config config.yaml   # 指定配置文件（启用热更新）
//	edgeflow validate --config config.yaml
//	edgeflow version                      # 显示版本信息
//	edgeflow health                       # 健康检查
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/edgeflow"
	"github.com/BaSui01/edgeflow/config"
	"github.com/BaSui01/edgeflow/internal/telemetry"
	"github.com/BaSui01/edgeflow/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(os.Args[2:])
	case "validate":
		code = runValidate(os.Args[2:], os.Stdout, os.Stderr)
	case "version":
		printVersion(os.Stdout)
	case "health":
		code = runHealthCheck(os.Args[2:], os.Stdout, os.Stderr)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		code = 1
	}
	os.Exit(code)
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	loader := newLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return 1
	}

	// 初始化日志
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	edgeflow.Version = Version
	logger.Info("Starting EdgeFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		otelProviders = &telemetry.Providers{}
	}

	srv := NewServer(cfg, loader, logger, otelProviders)
	if err := srv.Start(context.Background()); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
		_ = srv.Shutdown(context.Background())
		return 1
	}

	if err := srv.WaitForShutdown(context.Background()); err != nil {
		logger.Error("EdgeFlow stopped with error", zap.Error(err))
		return 1
	}
	logger.Info("EdgeFlow stopped")
	return 0
}

func newLoader(configPath string) *config.Loader {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath).WithRequireFile()
	}
	return loader
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := newLoader(*configPath).Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Config OK (%d components, strategy %q)\n", len(cfg.Components), cfg.Registry.Strategy)
	return 0
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(stdout, "OK")
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "EdgeFlow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `EdgeFlow - on-device AI runtime

Usage:
  edgeflow <command> [options]

Commands:
  serve     Start the EdgeFlow server
  validate  Load and validate a configuration file
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve' and 'validate':
  --config <path>   Path to configuration file (YAML)

Examples:
  edgeflow serve
  edgeflow serve --config /etc/edgeflow/config.yaml
  edgeflow validate --config config.yaml
  edgeflow health --addr http://localhost:8080
  edgeflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
