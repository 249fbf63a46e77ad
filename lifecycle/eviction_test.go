package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/edgeflow/testutil"
	"github.com/BaSui01/edgeflow/types"
)

// loadSet loads three models, oldest first, one minute apart.
func loadSet(tr *Tracker, clock *fakeClock, mems [3]int64) map[string]*testService {
	ids := []struct {
		id       string
		modality types.Capability
	}{
		{"stt", types.CapabilitySTT},
		{"llm", types.CapabilityTextGeneration},
		{"tts", types.CapabilityTTS},
	}
	out := make(map[string]*testService, len(ids))
	for i, m := range ids {
		out[m.id] = load(tr, m.id, m.modality, mems[i])
		clock.Advance(time.Minute)
	}
	return out
}

func TestHandlePressure_Normal(t *testing.T) {
	tr, clock := newTestTracker(t, Config{Budget: 100})
	loadSet(tr, clock, [3]int64{50, 50, 50})

	assert.Nil(t, tr.HandlePressure(context.Background(), PressureNormal))
	assert.Len(t, tr.Loaded(), 3)
}

func TestHandlePressure_WarningEvictsLRUToTarget(t *testing.T) {
	tr, clock := newTestTracker(t, Config{Budget: 1000, WarningTargetRatio: 0.8})
	svcs := loadSet(tr, clock, [3]int64{400, 300, 200})

	evicted := tr.HandlePressure(context.Background(), PressureWarning)

	assert.Equal(t, []string{"stt"}, evicted)
	assert.True(t, svcs["stt"].closed.Load())
	assert.Equal(t, int64(500), tr.TotalMemory())
}

func TestHandlePressure_WarningRespectsRecentUse(t *testing.T) {
	tr, clock := newTestTracker(t, Config{Budget: 1000, WarningTargetRatio: 0.8})
	loadSet(tr, clock, [3]int64{400, 300, 200})

	// stt 被使用后，最久未使用的是 llm
	_, ok := tr.ServiceFor("stt")
	require.True(t, ok)

	evicted := tr.HandlePressure(context.Background(), PressureWarning)
	assert.Equal(t, []string{"llm"}, evicted)
}

func TestHandlePressure_WarningWithoutBudgetEvictsOne(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	loadSet(tr, clock, [3]int64{1, 1, 1})

	evicted := tr.HandlePressure(context.Background(), PressureWarning)
	assert.Equal(t, []string{"stt"}, evicted)
	assert.Len(t, tr.Loaded(), 2)
}

func TestHandlePressure_CriticalEvictsLargestFirst(t *testing.T) {
	tr, clock := newTestTracker(t, Config{Budget: 1000, CriticalTargetRatio: 0.5})
	loadSet(tr, clock, [3]int64{200, 500, 200})

	evicted := tr.HandlePressure(context.Background(), PressureCritical)

	assert.Equal(t, []string{"llm"}, evicted)
	assert.Equal(t, int64(400), tr.TotalMemory())
}

func TestHandlePressure_CriticalTiesByLRU(t *testing.T) {
	tr, clock := newTestTracker(t, Config{Budget: 1000, CriticalTargetRatio: 0.05})
	loadSet(tr, clock, [3]int64{300, 300, 100})

	evicted := tr.HandlePressure(context.Background(), PressureCritical)
	assert.Equal(t, []string{"stt", "llm", "tts"}, evicted)
}

func TestHandlePressure_CriticalWithoutBudgetEvictsAll(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	svcs := loadSet(tr, clock, [3]int64{1, 2, 3})

	evicted := tr.HandlePressure(context.Background(), PressureCritical)

	assert.Len(t, evicted, 3)
	assert.Empty(t, tr.Loaded())
	for id, svc := range svcs {
		assert.True(t, svc.closed.Load(), id)
	}
}

func TestHandlePressure_PublishesEvictedEvents(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	loadSet(tr, clock, [3]int64{1, 1, 1})
	testutil.Drain(tr.Events())

	tr.HandlePressure(context.Background(), PressureWarning)

	events := testutil.Drain(tr.Events())
	assert.Equal(t, []EventKind{EventEvicted, EventWillUnload, EventDidUnload}, kinds(events))
	assert.Equal(t, "warning", events[0].Reason)
}

func TestReclaim(t *testing.T) {
	tr, clock := newTestTracker(t, Config{Budget: 1000})
	loadSet(tr, clock, [3]int64{400, 300, 200})

	assert.True(t, tr.Reclaim(context.Background(), 100))
	assert.Len(t, tr.Loaded(), 3, "fits without eviction")

	assert.True(t, tr.Reclaim(context.Background(), 300))
	assert.Equal(t, int64(500), tr.TotalMemory())

	assert.False(t, tr.Reclaim(context.Background(), 2000))
	assert.Equal(t, int64(500), tr.TotalMemory(), "impossible requests evict nothing")
}

func TestReclaim_NoBudget(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	loadSet(tr, clock, [3]int64{400, 300, 200})

	assert.True(t, tr.Reclaim(context.Background(), 1<<40))
	assert.Len(t, tr.Loaded(), 3)
}

func TestEvictIdle(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	loadSet(tr, clock, [3]int64{1, 1, 1})
	// stt 空闲 3 分钟，llm 2 分钟，tts 1 分钟

	evicted := tr.EvictIdle(context.Background(), 2*time.Minute)
	assert.ElementsMatch(t, []string{"stt", "llm"}, evicted)
	assert.Len(t, tr.Loaded(), 1)

	assert.Nil(t, tr.EvictIdle(context.Background(), 0))
}

func TestWatch(t *testing.T) {
	tr, clock := newTestTracker(t, DefaultConfig())
	loadSet(tr, clock, [3]int64{1, 1, 1})

	ch := make(chan PressureLevel, 1)
	done := make(chan struct{}, 1)
	go func() {
		tr.Watch(context.Background(), ch)
		done <- struct{}{}
	}()

	ch <- PressureCritical
	close(ch)

	_, ok := testutil.WaitForChannel(done, time.Second)
	require.True(t, ok, "Watch did not return after channel close")
	assert.Empty(t, tr.Loaded())
}

func TestParsePressureLevel(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want PressureLevel
	}{
		{"normal", PressureNormal},
		{"Warning", PressureWarning},
		{" critical ", PressureCritical},
	} {
		got, err := ParsePressureLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParsePressureLevel("panic")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	assert.Equal(t, "pressure(9)", PressureLevel(9).String())
}

func TestPressureLevel_JSON(t *testing.T) {
	var body struct {
		Level PressureLevel `json:"level"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"level":"critical"}`), &body))
	assert.Equal(t, PressureCritical, body.Level)

	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"critical"}`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"level":"meh"}`), &body))
}
