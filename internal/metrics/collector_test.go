package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("edgeflow", prometheus.NewRegistry(), zap.NewNop())
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := newTestCollector(t)

	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.componentInitTotal)
	assert.NotNil(t, collector.modelsLoaded)
	assert.NotNil(t, collector.pipelineTransitions)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	// 同名 namespace 在不同 Registry 下不应 panic
	assert.NotPanics(t, func() {
		NewCollector("edgeflow", prometheus.NewRegistry(), nil)
		NewCollector("edgeflow", prometheus.NewRegistry(), nil)
	})
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordHTTPRequest("GET", "/health", 200, 10*time.Millisecond, 64)
	collector.RecordHTTPRequest("GET", "/health", 204, 5*time.Millisecond, 0)
	collector.RecordHTTPRequest("POST", "/api/v1/memory-pressure", 401, time.Millisecond, 32)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/memory-pressure", "4xx")))
}

func TestCollector_ComponentAndModelMetrics(t *testing.T) {
	collector := newTestCollector(t)

	collector.ComponentInit("speech-to-text", "whisper", "ready", 50*time.Millisecond)
	collector.ComponentInit("speech-to-text", "whisper", "failed", 10*time.Millisecond)
	collector.ModelsLoaded(2, 1<<20)
	collector.ModelEvicted("text-generation", "critical")
	collector.TrackerEventDropped()
	collector.TrackerEventDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.componentInitTotal.WithLabelValues("speech-to-text", "whisper", "ready")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.modelsLoaded))
	assert.Equal(t, float64(1<<20), testutil.ToFloat64(collector.modelMemoryBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.modelEvictions.WithLabelValues("text-generation", "critical")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.trackerEventsDropped))
}

func TestCollector_PipelineMetrics(t *testing.T) {
	collector := newTestCollector(t)

	collector.PipelineTransition("idle", "listening")
	collector.InvalidTransition("voice", "idle", "barge_in")
	collector.BargeIn()
	collector.StageFailure("transcribe")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.pipelineTransitions.WithLabelValues("idle", "listening")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.invalidTransitions.WithLabelValues("voice", "idle", "barge_in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.bargeIns))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stageFailures.WithLabelValues("transcribe")))
}

func TestCollector_Gather(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewCollector("edgeflow", reg, zap.NewNop())
	collector.BargeIn()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["edgeflow_pipeline_barge_ins_total"])
	assert.True(t, names["edgeflow_models_loaded"])
}

func TestNop(t *testing.T) {
	var r Recorder = OrNop(nil)
	assert.IsType(t, Nop{}, r)
	assert.NotPanics(t, func() {
		r.ComponentInit("vad", "energy", "ready", 0)
		r.ModelsLoaded(0, 0)
		r.ModelEvicted("vad", "idle")
		r.TrackerEventDropped()
		r.PipelineTransition("a", "b")
		r.InvalidTransition("voice", "a", "b")
		r.BargeIn()
		r.StageFailure("x")
	})

	c := newTestCollector(t)
	assert.Same(t, c, OrNop(c))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
