package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/edgeflow/component"
	"github.com/BaSui01/edgeflow/providers"
	"github.com/BaSui01/edgeflow/types"
	"github.com/BaSui01/edgeflow/voice"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, RegistryConfig{}, cfg.Registry)
	assert.NotEqual(t, TrackerConfig{}, cfg.Tracker)
	assert.Equal(t, component.DefaultConfig(), cfg.Coordinator)
	assert.Equal(t, voice.DefaultConfig(), cfg.Pipeline)
	assert.Equal(t, providers.DefaultEnergyVADConfig(), cfg.VAD)
	assert.Empty(t, cfg.Components)
}

func TestDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100.0, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Empty(t, cfg.JWTSecret)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "edgeflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}

func TestDefaultTrackerConfig(t *testing.T) {
	cfg := DefaultTrackerConfig()
	assert.Equal(t, "@every 1m", cfg.SweepSpec)
	assert.Equal(t, 10*time.Minute, cfg.MaxIdle)
	assert.Zero(t, cfg.Budget)
}

// --- Validate ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"http port", func(c *Config) { c.Server.HTTPPort = 70000 }, "server.http_port"},
		{"metrics port", func(c *Config) { c.Server.MetricsPort = -1 }, "server.metrics_port"},
		{"rate limit", func(c *Config) { c.Server.RateLimitRPS = -1 }, "server.rate_limit_rps"},
		{"burst", func(c *Config) { c.Server.RateLimitBurst = 0 }, "server.rate_limit_burst"},
		{"tls pair", func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, "server.tls_cert_file"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
		{"otlp endpoint", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.OTLPEndpoint = "" }, "telemetry.otlp_endpoint"},
		{"strategy", func(c *Config) { c.Registry.Strategy = "random" }, "registry"},
		{"coordinator budget", func(c *Config) { c.Coordinator.MemoryBudget = -1 }, "coordinator.memory_budget"},
		{"tracker budget", func(c *Config) { c.Tracker.Budget = -1 }, "tracker.budget"},
		{"warning ratio", func(c *Config) { c.Tracker.WarningTargetRatio = 0 }, "tracker.warning_target_ratio"},
		{"critical ratio", func(c *Config) { c.Tracker.CriticalTargetRatio = 1.5 }, "tracker.critical_target_ratio"},
		{"sweep spec", func(c *Config) { c.Tracker.SweepSpec = "every minute" }, "tracker.sweep_spec"},
		{"max idle", func(c *Config) { c.Tracker.MaxIdle = 0 }, "tracker.max_idle"},
		{"pipeline", func(c *Config) { c.Pipeline.SpeechStartFrames = 0 }, "pipeline"},
		{"vad", func(c *Config) { c.VAD.Threshold = 0.5 }, "vad"},
		{"component", func(c *Config) {
			c.Components = []component.Descriptor{{Capability: "telepathy"}}
		}, "components[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_ValidateAggregates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Log.Level = "loud"
	cfg.Tracker.SweepSpec = ""
	cfg.Tracker.MaxIdle = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "server.http_port") && strings.Contains(msg, "log.level"))
	// 未开启清扫时不校验 max_idle
	assert.NotContains(t, msg, "tracker.max_idle")
}
