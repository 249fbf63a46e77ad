// =============================================================================
// 📦 EdgeFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("edgeflow.yaml").
//	    WithEnvPrefix("EDGEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/edgeflow/capability"
	"github.com/BaSui01/edgeflow/component"
	"github.com/BaSui01/edgeflow/lifecycle"
	"github.com/BaSui01/edgeflow/providers"
	"github.com/BaSui01/edgeflow/types"
	"github.com/BaSui01/edgeflow/voice"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 EdgeFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Registry 能力注册表与选择策略
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Coordinator 组件协调器配置
	Coordinator component.Config `yaml:"coordinator" env:"COORDINATOR"`

	// Tracker 模型生命周期配置
	Tracker TrackerConfig `yaml:"tracker" env:"TRACKER"`

	// Pipeline 语音管线配置
	Pipeline voice.Config `yaml:"pipeline" env:"PIPELINE"`

	// VAD 内置能量 VAD 配置
	VAD providers.EnergyVADConfig `yaml:"vad" env:"VAD"`

	// Components 启动时初始化的组件批次
	Components []component.Descriptor `yaml:"components"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWT HMAC 密钥，为空时管理接口不鉴权
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// JWT 签发者，为空时不校验
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	// TLS 证书与私钥路径，均为空时使用明文 HTTP
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// 选择策略名称
const (
	StrategyDefault  = "default"
	StrategyPattern  = "pattern"
	StrategyExplicit = "explicit"
)

// RegistryConfig 注册表配置
type RegistryConfig struct {
	// 策略: default, pattern, explicit
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// explicit 策略使用的框架
	Framework types.Framework `yaml:"framework" env:"FRAMEWORK"`
	// pattern 策略的模型 ID 路由表，为空时使用内置表
	Patterns map[types.Capability][]capability.PatternRule `yaml:"patterns"`
}

// BuildStrategy 根据配置构造选择策略
func (r RegistryConfig) BuildStrategy() (capability.Strategy, error) {
	switch r.Strategy {
	case "", StrategyDefault:
		return capability.DefaultStrategy{}, nil
	case StrategyPattern:
		table := r.Patterns
		if len(table) == 0 {
			table = capability.DefaultPatternTable()
		}
		return capability.NewPatternStrategy(table), nil
	case StrategyExplicit:
		if r.Framework == "" {
			return nil, types.NewError(types.ErrInvalidRequest, "explicit strategy requires a framework")
		}
		return capability.ExplicitFrameworkStrategy{Framework: r.Framework}, nil
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown selection strategy %q", r.Strategy)
	}
}

// TrackerConfig 模型生命周期配置
type TrackerConfig struct {
	// 内存上限（字节），0 表示不限
	Budget int64 `yaml:"budget" env:"BUDGET"`
	// warning 压力下的回收目标比例
	WarningTargetRatio float64 `yaml:"warning_target_ratio" env:"WARNING_TARGET_RATIO"`
	// critical 压力下的回收目标比例
	CriticalTargetRatio float64 `yaml:"critical_target_ratio" env:"CRITICAL_TARGET_RATIO"`
	// 生命周期事件缓冲区
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
	// 空闲回收的 cron 表达式，为空时不启动
	SweepSpec string `yaml:"sweep_spec" env:"SWEEP_SPEC"`
	// 模型最大空闲时长
	MaxIdle time.Duration `yaml:"max_idle" env:"MAX_IDLE"`
}

// Lifecycle 转换为 lifecycle.Config
func (c TrackerConfig) Lifecycle() lifecycle.Config {
	return lifecycle.Config{
		Budget:              c.Budget,
		WarningTargetRatio:  c.WarningTargetRatio,
		CriticalTargetRatio: c.CriticalTargetRatio,
		EventBuffer:         c.EventBuffer,
	}
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath  string
	envPrefix   string
	requireFile bool
	validators  []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "EDGEFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// WithRequireFile 要求配置文件必须存在
func (l *Loader) WithRequireFile() *Loader {
	l.requireFile = true
	return l
}

// ConfigPath 返回配置文件路径
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) && !l.requireFile {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
			for i := range parts {
				slice.Index(i).SetString(strings.TrimSpace(parts[i]))
			}
			field.Set(slice)
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
