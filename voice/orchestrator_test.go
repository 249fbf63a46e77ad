package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/edgeflow/testutil"
	"github.com/BaSui01/edgeflow/testutil/fixtures"
	"github.com/BaSui01/edgeflow/types"
)

const waitTimeout = 5 * time.Second

type harness struct {
	vad  *amplitudeVAD
	stt  *mockSTT
	llm  *mockLLM
	tts  *mockTTS
	sink *mockSink

	orch   *Orchestrator
	frames chan AudioFrame
	errc   chan error
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cooldown = 100 * time.Millisecond
	cfg.EventBuffer = 4096
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		vad:    newVAD(),
		stt:    &mockSTT{text: "what time is it"},
		llm:    &mockLLM{tokens: []string{"It is", " noon"}},
		tts:    &mockTTS{chunks: 3},
		sink:   &mockSink{},
		frames: make(chan AudioFrame, 1024),
		errc:   make(chan error, 1),
	}
	orch, err := NewOrchestrator(Components{
		VAD:         h.vad,
		Transcriber: h.stt,
		Generator:   h.llm,
		Synthesizer: h.tts,
		Sink:        h.sink,
	}, cfg, WithLogger(zaptest.NewLogger(t)), WithSessionID("session-1"))
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() { h.errc <- h.orch.Run(ctx, h.frames) }()
}

func (h *harness) send(segments ...fixtures.Segment) {
	for _, f := range fixtures.Frames(segments...) {
		h.frames <- AudioFrame{Timestamp: time.Now(), Samples: f, SampleRate: fixtures.SampleRate}
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
		return nil
	}
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	testutil.AssertEventuallyTrue(t, func() bool { return h.orch.State() == s }, waitTimeout)
}

func (h *harness) events() []Event { return testutil.Drain(h.orch.Events()) }

func utterance(speech time.Duration) []fixtures.Segment {
	return []fixtures.Segment{fixtures.Speech(speech), fixtures.Silence(700 * time.Millisecond)}
}

func countKind(evs []Event, kind EventKind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func startedStages(evs []Event) []State {
	var out []State
	for _, ev := range evs {
		if ev.Kind == EventStarted {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func findEvent(evs []Event, kind EventKind, stage State) (Event, bool) {
	for _, ev := range evs {
		if ev.Kind == kind && ev.Stage == stage {
			return ev, true
		}
	}
	return Event{}, false
}

func TestOrchestrator_SilenceSpeechSilence(t *testing.T) {
	h := newHarness(t, nil)
	h.start(testutil.TestContext(t))

	h.send(
		fixtures.Silence(2*time.Second),
		fixtures.Speech(time.Second),
		fixtures.Silence(2*time.Second),
	)
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	assert.Equal(t, 1, countKind(evs, EventSpeechStarted))
	assert.Equal(t, 1, countKind(evs, EventSpeechEnded))
	assert.Len(t, h.stt.calls(), 1)
	assert.Equal(t, int64(1), h.llm.calls.Load())
	assert.Equal(t, int64(1), h.tts.calls.Load())
	assert.Equal(t, int64(3), h.sink.played.Load())

	assert.Equal(t, []State{
		StateListening,
		StateProcessingSpeech,
		StateGeneratingResponse,
		StatePlayingSynthesis,
		StateCooldown,
		StateListening,
		StateIdle,
	}, startedStages(evs))

	assert.Equal(t, 2, countKind(evs, EventPartialResult))
	final, ok := findEvent(evs, EventFinalResult, StateGeneratingResponse)
	require.True(t, ok)
	assert.Equal(t, "It is noon", final.Payload)
	transcript, ok := findEvent(evs, EventFinalResult, StateProcessingSpeech)
	require.True(t, ok)
	assert.Equal(t, "what time is it", transcript.Payload)

	assert.Equal(t, StateIdle, h.orch.State())
	assert.Equal(t, int64(0), h.orch.buffers.Outstanding())
	assert.Equal(t, []bool{true, false}, h.vad.playbackCalls())
}

func TestOrchestrator_EventsAreOrderedAndStamped(t *testing.T) {
	h := newHarness(t, nil)
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	require.NotEmpty(t, evs)
	for i, ev := range evs {
		assert.Equal(t, "session-1", ev.SessionID)
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.False(t, ev.At.IsZero())
		if i > 0 {
			assert.NotEqual(t, evs[i-1].ID, ev.ID)
		}
	}
	assert.Equal(t, int64(0), h.orch.DroppedEvents())
}

func TestOrchestrator_CooldownDiscardsInput(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Cooldown = 500 * time.Millisecond })
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	h.waitState(t, StateCooldown)
	vadCalls := h.vad.calls.Load()

	h.send(fixtures.Speech(time.Second))
	testutil.AssertEventuallyTrue(t, func() bool { return len(h.frames) == 0 }, waitTimeout)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateCooldown, h.orch.State())
	assert.Equal(t, vadCalls, h.vad.calls.Load(), "cooldown frames must not reach the VAD")

	h.waitState(t, StateListening)
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	assert.Len(t, h.stt.calls(), 1)
	assert.Equal(t, 1, countKind(evs, EventSpeechStarted))

	cooldown, ok := findEvent(evs, EventStarted, StateCooldown)
	require.True(t, ok)
	var resumed Event
	for _, ev := range evs {
		if ev.Kind == EventStarted && ev.Stage == StateListening && ev.Seq > cooldown.Seq {
			resumed = ev
			break
		}
	}
	require.NotZero(t, resumed.Seq)
	assert.GreaterOrEqual(t, resumed.At.Sub(cooldown.At), 500*time.Millisecond)
}

func TestOrchestrator_BargeInSkipsCooldown(t *testing.T) {
	h := newHarness(t, nil)
	h.tts.chunks = 100
	h.tts.delay = 20 * time.Millisecond
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	h.waitState(t, StatePlayingSynthesis)

	h.send(utterance(300 * time.Millisecond)...)
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	require.Equal(t, 1, countKind(evs, EventInterrupted))
	interrupted, _ := findEvent(evs, EventInterrupted, StatePlayingSynthesis)
	assert.NotZero(t, interrupted.Seq)

	assert.Equal(t, []State{
		StateListening,
		StateProcessingSpeech,
		StateGeneratingResponse,
		StatePlayingSynthesis,
		StateProcessingSpeech,
		StateGeneratingResponse,
		StatePlayingSynthesis,
		StateCooldown,
		StateListening,
		StateIdle,
	}, startedStages(evs))

	assert.GreaterOrEqual(t, h.sink.stops.Load(), int64(1))
	assert.Len(t, h.stt.calls(), 2)
	assert.Equal(t, int64(2), h.tts.calls.Load())
	assert.Less(t, h.sink.played.Load(), int64(200))
	assert.Equal(t, int64(0), h.orch.buffers.Outstanding())
	assert.Equal(t, []bool{true, false, true, false}, h.vad.playbackCalls())
}

func TestOrchestrator_BargeInDuringGeneration(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.tokens = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	h.llm.delay = 100 * time.Millisecond
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	h.waitState(t, StateGeneratingResponse)

	h.send(utterance(400 * time.Millisecond)...)
	testutil.AssertEventuallyTrue(t, func() bool { return h.llm.calls.Load() == 2 }, waitTimeout)
	h.orch.Stop()
	require.NoError(t, h.wait(t))

	evs := h.events()
	_, ok := findEvent(evs, EventInterrupted, StateGeneratingResponse)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, h.llm.cancelled.Load(), int64(1))
	assert.Equal(t, int64(0), h.tts.calls.Load())
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestOrchestrator_StageFailureReturnsToListening(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.failNext(1)
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	errEv, ok := findEvent(evs, EventError, StateProcessingSpeech)
	require.True(t, ok)
	require.NotNil(t, errEv.Err)
	assert.Equal(t, types.ErrPipelineStageFailed, errEv.Err.Code)
	assert.True(t, errEv.Err.Retryable)

	assert.Equal(t, int64(0), h.llm.calls.Load())
	assert.Equal(t, []State{
		StateListening,
		StateProcessingSpeech,
		StateListening,
		StateIdle,
	}, startedStages(evs))
}

func TestOrchestrator_GenerationFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.err = errors.New("model crashed")
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	errEv, ok := findEvent(evs, EventError, StateGeneratingResponse)
	require.True(t, ok)
	assert.Contains(t, errEv.Err.Error(), "model crashed")
	assert.Equal(t, int64(0), h.tts.calls.Load())
	assert.Equal(t, StateListening, startedStages(evs)[3])
}

func TestOrchestrator_RepeatedFailuresHaltUntilReset(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxConsecutiveFailures = 1 })
	h.stt.failNext(2)
	h.start(testutil.TestContext(t))

	h.send(utterance(400 * time.Millisecond)...)
	testutil.AssertEventuallyTrue(t, func() bool {
		return len(h.stt.calls()) == 1 && h.orch.State() == StateListening
	}, waitTimeout)

	h.send(utterance(400 * time.Millisecond)...)
	h.waitState(t, StateError)

	vadCalls := h.vad.calls.Load()
	h.send(utterance(400 * time.Millisecond)...)
	testutil.AssertEventuallyTrue(t, func() bool { return len(h.frames) == 0 }, waitTimeout)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, vadCalls, h.vad.calls.Load(), "audio is ignored in error")
	assert.Len(t, h.stt.calls(), 2)

	h.orch.Reset()
	h.waitState(t, StateListening)

	h.send(utterance(400 * time.Millisecond)...)
	testutil.AssertEventuallyTrue(t, func() bool { return h.tts.calls.Load() == 1 }, waitTimeout)

	h.orch.Stop()
	require.NoError(t, h.wait(t))
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Equal(t, 2, countKind(h.events(), EventError))
}

func TestOrchestrator_VADFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.vad.err = errors.New("bad frame")
	h.start(testutil.TestContext(t))

	h.send(fixtures.Silence(10 * fixtures.FrameDuration))
	close(h.frames)
	require.NoError(t, h.wait(t))

	// three tolerated failures, the fourth halts the loop
	assert.Equal(t, int64(4), h.vad.calls.Load())
	evs := h.events()
	assert.Equal(t, 4, countKind(evs, EventError))
	assert.Contains(t, startedStages(evs), StateError)
}

func TestOrchestrator_NonSpeechTranscript(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.text = "[BLANK_AUDIO]"
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	assert.Equal(t, int64(0), h.llm.calls.Load())
	assert.Equal(t, 0, countKind(evs, EventFinalResult))
	assert.Equal(t, []State{
		StateListening,
		StateProcessingSpeech,
		StateListening,
		StateIdle,
	}, startedStages(evs))
}

func TestOrchestrator_ShortBurstNotTranscribed(t *testing.T) {
	h := newHarness(t, nil)
	h.start(testutil.TestContext(t))

	h.send(fixtures.Speech(100*time.Millisecond), fixtures.Silence(time.Second))
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	assert.Equal(t, 1, countKind(evs, EventSpeechStarted))
	assert.Equal(t, 1, countKind(evs, EventSpeechEnded))
	assert.Empty(t, h.stt.calls())
}

func TestOrchestrator_LongSpeechIsCut(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxSpeechDuration = 500 * time.Millisecond })
	h.stt.delay = 50 * time.Millisecond
	h.start(testutil.TestContext(t))

	h.send(fixtures.Speech(time.Second))
	close(h.frames)
	require.NoError(t, h.wait(t))

	calls := h.stt.calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, 25*fixtures.SamplesPerFrame, calls[0])
}

func TestOrchestrator_InputEndsMidUtterance(t *testing.T) {
	h := newHarness(t, nil)
	h.start(testutil.TestContext(t))

	h.send(fixtures.Speech(500 * time.Millisecond))
	close(h.frames)
	require.NoError(t, h.wait(t))

	require.Len(t, h.stt.calls(), 1)
	assert.Equal(t, 25*fixtures.SamplesPerFrame, h.stt.calls()[0])
}

func TestOrchestrator_ContextCancelStopsTasks(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.start(ctx)

	h.send(utterance(time.Second)...)
	testutil.AssertEventuallyTrue(t, func() bool { return h.llm.calls.Load() == 1 }, waitTimeout)
	cancel()

	err := h.wait(t)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), h.llm.cancelled.Load())
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Equal(t, int64(0), h.orch.buffers.Outstanding())
}

func TestOrchestrator_RunTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.start(testutil.TestContext(t))
	h.waitState(t, StateListening)

	err := h.orch.Run(context.Background(), make(chan AudioFrame))
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidStateTransition))

	h.orch.Stop()
	require.NoError(t, h.wait(t))

	// a stopped orchestrator can run again
	frames := make(chan AudioFrame)
	close(frames)
	assert.NoError(t, h.orch.Run(context.Background(), frames))
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(Components{VAD: newVAD()}, DefaultConfig())
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	resolve := func(context.Context, types.Capability) (any, error) { return nil, nil }
	_, err = NewOrchestrator(Components{Resolve: resolve}, DefaultConfig())
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest), "sink is required with a resolver")
	_, err = NewOrchestrator(Components{Sink: &mockSink{}, Resolve: resolve}, DefaultConfig())
	assert.NoError(t, err)

	cfg := DefaultConfig()
	cfg.EndSilence = 0
	_, err = NewOrchestrator(Components{
		VAD:         newVAD(),
		Transcriber: &mockSTT{},
		Generator:   &mockLLM{},
		Synthesizer: &mockTTS{},
		Sink:        &mockSink{},
	}, cfg)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestOrchestrator_InvalidRequestCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.start(testutil.TestContext(t))
	h.waitState(t, StateListening)

	h.orch.Reset()
	testutil.AssertEventuallyTrue(t, func() bool { return h.orch.InvalidTransitions() == 1 }, waitTimeout)
	assert.Equal(t, StateListening, h.orch.State())

	h.orch.Stop()
	require.NoError(t, h.wait(t))
}

// --- service resolution ---

type resolveLog struct {
	mu    sync.Mutex
	calls map[types.Capability]int
}

func (l *resolveLog) count(c types.Capability) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[c]
}

// withResolver rebuilds h.orch so every stage is looked up through resolve.
func withResolver(t *testing.T, h *harness, resolve func(types.Capability) (any, error)) *resolveLog {
	t.Helper()
	log := &resolveLog{calls: map[types.Capability]int{}}
	cfg := DefaultConfig()
	cfg.Cooldown = 100 * time.Millisecond
	cfg.EventBuffer = 4096
	orch, err := NewOrchestrator(Components{
		Sink: h.sink,
		Resolve: func(_ context.Context, c types.Capability) (any, error) {
			log.mu.Lock()
			log.calls[c]++
			log.mu.Unlock()
			return resolve(c)
		},
	}, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	h.orch = orch
	return log
}

func (h *harness) service(c types.Capability) (any, error) {
	switch c {
	case types.CapabilityVAD:
		return h.vad, nil
	case types.CapabilitySTT:
		return h.stt, nil
	case types.CapabilityTextGeneration:
		return h.llm, nil
	case types.CapabilityTTS:
		return h.tts, nil
	}
	return nil, errors.New("unexpected capability")
}

func TestOrchestrator_ResolvesServicesForEveryTask(t *testing.T) {
	h := newHarness(t, nil)
	log := withResolver(t, h, h.service)
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	testutil.AssertEventuallyTrue(t, func() bool {
		return h.tts.calls.Load() == 1 && h.orch.State() == StateListening
	}, waitTimeout)

	h.send(utterance(time.Second)...)
	close(h.frames)
	require.NoError(t, h.wait(t))

	assert.Len(t, h.stt.calls(), 2)
	assert.Equal(t, 2, log.count(types.CapabilitySTT))
	assert.Equal(t, 2, log.count(types.CapabilityTextGeneration))
	assert.Equal(t, 2, log.count(types.CapabilityTTS))
	assert.GreaterOrEqual(t, log.count(types.CapabilityVAD), 2)
	assert.Equal(t, int64(6), h.sink.played.Load())
	assert.Equal(t, []bool{true, false, true, false}, h.vad.playbackCalls())
}

func TestOrchestrator_ResolveFailureIsStageFailure(t *testing.T) {
	h := newHarness(t, nil)
	withResolver(t, h, func(c types.Capability) (any, error) {
		if c == types.CapabilitySTT {
			return nil, errors.New("stt reload failed")
		}
		return h.service(c)
	})
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	close(h.frames)
	require.NoError(t, h.wait(t))

	evs := h.events()
	errEv, ok := findEvent(evs, EventError, StateProcessingSpeech)
	require.True(t, ok)
	assert.Contains(t, errEv.Err.Error(), "stt reload failed")
	assert.Empty(t, h.stt.calls())
	assert.Equal(t, int64(0), h.llm.calls.Load())
	assert.Equal(t, []State{
		StateListening,
		StateProcessingSpeech,
		StateListening,
		StateIdle,
	}, startedStages(evs))
}

func TestOrchestrator_ResolvedServiceOfWrongType(t *testing.T) {
	h := newHarness(t, nil)
	withResolver(t, h, func(c types.Capability) (any, error) {
		if c == types.CapabilityTextGeneration {
			return h.tts, nil
		}
		return h.service(c)
	})
	h.start(testutil.TestContext(t))

	h.send(utterance(time.Second)...)
	close(h.frames)
	require.NoError(t, h.wait(t))

	errEv, ok := findEvent(h.events(), EventError, StateGeneratingResponse)
	require.True(t, ok)
	assert.Contains(t, errEv.Err.Error(), "voice.Generator")
	assert.Equal(t, int64(0), h.tts.calls.Load())
}
