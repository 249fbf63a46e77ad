// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标记录接口
// =============================================================================

// Recorder 是核心包依赖的指标记录接口。
// 核心包只依赖该接口，测试中使用 Nop。
type Recorder interface {
	// 组件初始化
	ComponentInit(capability, provider, status string, duration time.Duration)

	// 模型生命周期
	ModelsLoaded(count int, memoryBytes int64)
	ModelEvicted(modality, reason string)
	TrackerEventDropped()

	// 语音流水线
	PipelineTransition(from, to string)
	InvalidTransition(machine, from, trigger string)
	BargeIn()
	StageFailure(stage string)
}

// Nop 不记录任何指标
type Nop struct{}

func (Nop) ComponentInit(string, string, string, time.Duration) {}
func (Nop) ModelsLoaded(int, int64) {}
func (Nop) ModelEvicted(string, string) {}
func (Nop) TrackerEventDropped() {}
func (Nop) PipelineTransition(string, string) {}
func (Nop) InvalidTransition(string, string, string) {}
func (Nop) BargeIn() {}
func (Nop) StageFailure(string) {}

// OrNop 在 r 为 nil 时返回 Nop
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 组件指标
	componentInitTotal    *prometheus.CounterVec
	componentInitDuration *prometheus.HistogramVec

	// 模型生命周期指标
	modelsLoaded         prometheus.Gauge
	modelMemoryBytes     prometheus.Gauge
	modelEvictions       *prometheus.CounterVec
	trackerEventsDropped prometheus.Counter

	// 流水线指标
	pipelineTransitions *prometheus.CounterVec
	invalidTransitions  *prometheus.CounterVec
	bargeIns            prometheus.Counter
	stageFailures       *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registerer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 组件指标
	c.componentInitTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_init_total",
			Help:      "Total number of component initializations",
		},
		[]string{"capability", "provider", "status"},
	)

	c.componentInitDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "component_init_duration_seconds",
			Help:      "Component initialization duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"capability"},
	)

	// 模型生命周期指标
	c.modelsLoaded = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "models_loaded",
		Help:      "Number of loaded model instances",
	})

	c.modelMemoryBytes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_memory_bytes",
		Help:      "Memory held by loaded models in bytes",
	})

	c.modelEvictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_evictions_total",
			Help:      "Total number of model evictions",
		},
		[]string{"modality", "reason"},
	)

	c.trackerEventsDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracker_events_dropped_total",
		Help:      "Lifecycle events dropped because the buffer was full",
	})

	// 流水线指标
	c.pipelineTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_transitions_total",
			Help:      "Total number of voice pipeline state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.invalidTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_transitions_total",
			Help:      "Total number of rejected state transitions",
		},
		[]string{"machine", "from_state", "trigger"},
	)

	c.bargeIns = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_barge_ins_total",
		Help:      "Total number of barge-in interruptions",
	})

	c.stageFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_failures_total",
			Help:      "Total number of voice pipeline stage failures",
		},
		[]string{"stage"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧩 组件与模型指标记录
// =============================================================================

// ComponentInit 记录组件初始化
func (c *Collector) ComponentInit(capability, provider, status string, duration time.Duration) {
	c.componentInitTotal.WithLabelValues(capability, provider, status).Inc()
	c.componentInitDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// ModelsLoaded 记录已加载模型数量与内存
func (c *Collector) ModelsLoaded(count int, memoryBytes int64) {
	c.modelsLoaded.Set(float64(count))
	c.modelMemoryBytes.Set(float64(memoryBytes))
}

// ModelEvicted 记录模型驱逐
func (c *Collector) ModelEvicted(modality, reason string) {
	c.modelEvictions.WithLabelValues(modality, reason).Inc()
}

// TrackerEventDropped 记录丢弃的生命周期事件
func (c *Collector) TrackerEventDropped() {
	c.trackerEventsDropped.Inc()
}

// =============================================================================
// 🎙️ 流水线指标记录
// =============================================================================

// PipelineTransition 记录流水线状态转换
func (c *Collector) PipelineTransition(from, to string) {
	c.pipelineTransitions.WithLabelValues(from, to).Inc()
}

// InvalidTransition 记录被拒绝的状态转换
func (c *Collector) InvalidTransition(machine, from, trigger string) {
	c.invalidTransitions.WithLabelValues(machine, from, trigger).Inc()
}

// BargeIn 记录打断
func (c *Collector) BargeIn() {
	c.bargeIns.Inc()
}

// StageFailure 记录阶段失败
func (c *Collector) StageFailure(stage string) {
	c.stageFailures.WithLabelValues(stage).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
