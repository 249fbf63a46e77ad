// =============================================================================
// 📦 EdgeFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BaSui01/edgeflow/component"
	"github.com/BaSui01/edgeflow/lifecycle"
	"github.com/BaSui01/edgeflow/providers"
	"github.com/BaSui01/edgeflow/types"
	"github.com/BaSui01/edgeflow/voice"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
		Registry:    DefaultRegistryConfig(),
		Coordinator: component.DefaultConfig(),
		Tracker:     DefaultTrackerConfig(),
		Pipeline:    voice.DefaultConfig(),
		VAD:         providers.DefaultEnergyVADConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "edgeflow",
		SampleRate:   0.1,
	}
}

// DefaultRegistryConfig 返回默认注册表配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{Strategy: StrategyDefault}
}

// DefaultTrackerConfig 返回默认生命周期配置
func DefaultTrackerConfig() TrackerConfig {
	lc := lifecycle.DefaultConfig()
	return TrackerConfig{
		Budget:              lc.Budget,
		WarningTargetRatio:  lc.WarningTargetRatio,
		CriticalTargetRatio: lc.CriticalTargetRatio,
		EventBuffer:         lc.EventBuffer,
		SweepSpec:           lifecycle.DefaultSweepSpec,
		MaxIdle:             10 * time.Minute,
	}
}

// =============================================================================
// ✅ 配置校验
// =============================================================================

// Validate 校验全部配置段，汇总所有问题后返回 INVALID_REQUEST
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("server.metrics_port out of range: %d", c.Server.MetricsPort))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		errs = append(errs, errors.New("server.rate_limit_burst must be at least 1"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level unknown: %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format unknown: %q", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be within [0,1]: %v", c.Telemetry.SampleRate))
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
	}

	if _, err := c.Registry.BuildStrategy(); err != nil {
		errs = append(errs, fmt.Errorf("registry: %w", err))
	}

	if c.Coordinator.MemoryBudget < 0 {
		errs = append(errs, errors.New("coordinator.memory_budget must not be negative"))
	}

	if c.Tracker.Budget < 0 {
		errs = append(errs, errors.New("tracker.budget must not be negative"))
	}
	if c.Tracker.WarningTargetRatio <= 0 || c.Tracker.WarningTargetRatio > 1 {
		errs = append(errs, fmt.Errorf("tracker.warning_target_ratio must be within (0,1]: %v", c.Tracker.WarningTargetRatio))
	}
	if c.Tracker.CriticalTargetRatio <= 0 || c.Tracker.CriticalTargetRatio > 1 {
		errs = append(errs, fmt.Errorf("tracker.critical_target_ratio must be within (0,1]: %v", c.Tracker.CriticalTargetRatio))
	}
	if c.Tracker.SweepSpec != "" {
		if _, err := cron.ParseStandard(c.Tracker.SweepSpec); err != nil {
			errs = append(errs, fmt.Errorf("tracker.sweep_spec: %w", err))
		}
		if c.Tracker.MaxIdle <= 0 {
			errs = append(errs, errors.New("tracker.max_idle must be positive when sweeping"))
		}
	}

	if err := c.Pipeline.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if err := c.VAD.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("vad: %w", err))
	}

	for i, d := range c.Components {
		if !d.Capability.Valid() {
			errs = append(errs, fmt.Errorf("components[%d]: unknown capability %q", i, d.Capability))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return types.NewError(types.ErrInvalidRequest, "invalid configuration").WithCause(errors.Join(errs...))
}
