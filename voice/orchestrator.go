package voice

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/internal/metrics"
	"github.com/BaSui01/edgeflow/internal/pool"
	"github.com/BaSui01/edgeflow/types"
)

// Resolver returns the current service for a capability, reloading the
// model behind it if it was evicted.
type Resolver func(ctx context.Context, capability types.Capability) (any, error)

// Components are the stage backends of an Orchestrator.
//
// With Resolve set, the VAD, Transcriber, Generator and Synthesizer fields
// may be left nil. The stage services are then looked up through Resolve
// before every transcribe, generate and synthesize task, and the VAD at
// the start of every listening period, so no service is kept across an
// unload.
type Components struct {
	VAD         VAD
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Sink        AudioSink
	Resolve     Resolver
}

func (c Components) validate() error {
	missing := ""
	switch {
	case c.Sink == nil:
		missing = "sink"
	case c.Resolve != nil:
		return nil
	case c.VAD == nil:
		missing = "vad"
	case c.Transcriber == nil:
		missing = "transcriber"
	case c.Generator == nil:
		missing = "generator"
	case c.Synthesizer == nil:
		missing = "synthesizer"
	default:
		return nil
	}
	return types.Errorf(types.ErrInvalidRequest, "voice pipeline requires a %s", missing)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = metrics.OrNop(rec) }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.sessionID = id
		}
	}
}

// WithBufferPool shares a sample buffer pool with the orchestrator.
func WithBufferPool(p *pool.SampleBufferPool) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.buffers = p
		}
	}
}

type taskKind int

const (
	taskTranscribe taskKind = iota
	taskGenerate
	taskSynthesize
)

func (k taskKind) stage() State {
	switch k {
	case taskTranscribe:
		return StateProcessingSpeech
	case taskGenerate:
		return StateGeneratingResponse
	default:
		return StatePlayingSynthesis
	}
}

type taskResult struct {
	kind taskKind
	text string
	err  error
}

type task struct {
	kind   taskKind
	cancel context.CancelFunc
	done   chan taskResult
}

// Orchestrator runs the listen, transcribe, generate and speak loop for one
// session.
type Orchestrator struct {
	cfg Config

	vad      VAD
	stt      Transcriber
	llm      Generator
	tts      Synthesizer
	sink     AudioSink
	playback PlaybackAware
	resolve  Resolver

	machine   *Machine
	segmenter *Segmenter
	buffers   *pool.SampleBufferPool

	sessionID string
	events    chan Event
	emitMu    sync.Mutex
	seq       uint64
	dropped   atomic.Int64
	requests  chan Trigger
	running   atomic.Bool

	logger  *zap.Logger
	metrics metrics.Recorder

	// Owned by the Run loop.
	task     *task
	cooldown *time.Timer
	failures int
	playing  bool
}

// NewOrchestrator creates an orchestrator in Idle.
func NewOrchestrator(c Components, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:       cfg,
		vad:       c.VAD,
		stt:       c.Transcriber,
		llm:       c.Generator,
		tts:       c.Synthesizer,
		sink:      c.Sink,
		resolve:   c.Resolve,
		sessionID: uuid.NewString(),
		events:    make(chan Event, cfg.EventBuffer),
		requests:  make(chan Trigger, 8),
		logger:    zap.NewNop(),
		metrics:   metrics.Nop{},
	}
	o.useVAD(c.VAD)
	for _, opt := range opts {
		opt(o)
	}
	if o.buffers == nil {
		o.buffers = pool.NewSampleBufferPool(cfg.SampleRate)
	}
	o.logger = o.logger.With(zap.String("component", "voice_pipeline"), zap.String("session_id", o.sessionID))
	o.segmenter = NewSegmenter(cfg, o.buffers)
	o.machine = NewMachine(o.logger, o.metrics, func(_, to State) {
		o.emit(EventStarted, to, "", nil)
	})
	return o, nil
}

// SessionID returns the session id stamped on every event.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// State returns the current pipeline state.
func (o *Orchestrator) State() State { return o.machine.State() }

// Events returns the pipeline event stream.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// DroppedEvents returns how many events were dropped on a full channel.
func (o *Orchestrator) DroppedEvents() int64 { return o.dropped.Load() }

// InvalidTransitions returns how many triggers the state machine rejected.
func (o *Orchestrator) InvalidTransitions() int64 { return o.machine.Invalid() }

// Reset asks the loop to leave Error and resume listening.
func (o *Orchestrator) Reset() { o.request(TriggerReset) }

// Stop asks the loop to return to Idle and exit.
func (o *Orchestrator) Stop() { o.request(TriggerStop) }

func (o *Orchestrator) request(t Trigger) {
	select {
	case o.requests <- t:
	default:
		o.logger.Warn("pipeline request dropped", zap.String("trigger", string(t)))
	}
}

// Run consumes frames until ctx is done, Stop is requested, or frames is
// closed and in-flight work has settled.
func (o *Orchestrator) Run(ctx context.Context, frames <-chan AudioFrame) error {
	if !o.running.CompareAndSwap(false, true) {
		return types.NewError(types.ErrInvalidStateTransition, "voice pipeline already running")
	}
	defer o.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer o.shutdown()

	if _, err := o.machine.Fire(TriggerStart); err != nil {
		return err
	}
	o.logger.Info("voice pipeline started")
	o.refreshVAD(runCtx)

	for {
		if frames == nil && o.task == nil && o.cooldown == nil {
			return nil
		}

		var taskDone <-chan taskResult
		if o.task != nil {
			taskDone = o.task.done
		}
		var cooldownC <-chan time.Time
		if o.cooldown != nil {
			cooldownC = o.cooldown.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-o.requests:
			if req == TriggerStop {
				return nil
			}
			o.handleRequest(req)

		case f, ok := <-frames:
			if !ok {
				frames = nil
				o.endOfInput(runCtx)
				continue
			}
			o.handleFrame(runCtx, f)

		case res := <-taskDone:
			o.task.cancel()
			o.task = nil
			o.handleResult(runCtx, res)

		case <-cooldownC:
			o.cooldown = nil
			o.machine.Fire(TriggerCooldownElapsed)
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.abortTask()
	o.stopCooldown()
	o.setPlayback(false)
	o.segmenter.Reset()
	o.resetVAD()
	o.machine.Fire(TriggerStop)
	o.logger.Info("voice pipeline stopped")
}

func (o *Orchestrator) handleRequest(t Trigger) {
	if _, err := o.machine.Fire(t); err != nil {
		return
	}
	if t == TriggerReset {
		o.failures = 0
		o.segmenter.Reset()
		o.resetVAD()
		o.machine.Fire(TriggerStart)
	}
}

// =============================================================================
// Audio input
// =============================================================================

func (o *Orchestrator) handleFrame(ctx context.Context, f AudioFrame) {
	if f.SampleRate <= 0 {
		f.SampleRate = o.cfg.SampleRate
	}

	switch o.machine.State() {
	case StateListening:
		if !o.segmenter.Speaking() && !o.refreshVAD(ctx) {
			return
		}
		o.detect(ctx, f, o.cfg.SpeechStartFrames)
	case StateProcessingSpeech:
		// frames that arrive while the utterance is being transcribed are dropped
		if o.task == nil {
			o.detect(ctx, f, o.cfg.SpeechStartFrames)
		}
	case StateGeneratingResponse, StatePlayingSynthesis:
		o.detect(ctx, f, o.cfg.BargeInStartFrames)
	}
}

func (o *Orchestrator) detect(ctx context.Context, f AudioFrame, startFrames int) {
	if o.vad == nil {
		return
	}
	isSpeech, err := o.vad.ProcessFrame(f)
	if err != nil {
		o.stageError(o.machine.State(), fmt.Errorf("vad: %w", err))
		return
	}

	seg := o.segmenter.Process(f.Samples, f.SampleRate, isSpeech, startFrames)
	switch seg.Event {
	case SegmentStarted:
		o.speechStarted()
	case SegmentEnded:
		o.speechEnded(ctx, seg)
	}
}

func (o *Orchestrator) speechStarted() {
	switch state := o.machine.State(); state {
	case StateListening:
		o.machine.Fire(TriggerSpeechStarted)
		o.emit(EventSpeechStarted, StateProcessingSpeech, "", nil)

	case StateGeneratingResponse, StatePlayingSynthesis:
		o.abortTask()
		o.setPlayback(false)
		o.emit(EventInterrupted, state, "", nil)
		o.metrics.BargeIn()
		o.logger.Debug("barge-in", zap.String("stage", string(state)))
		o.machine.Fire(TriggerBargeIn)
		o.emit(EventSpeechStarted, StateProcessingSpeech, "", nil)
	}
}

func (o *Orchestrator) speechEnded(ctx context.Context, seg Segment) {
	o.emit(EventSpeechEnded, o.machine.State(), seg.Voiced.String(), nil)
	if seg.Discarded {
		o.machine.Fire(TriggerTranscriptEmpty)
		return
	}
	if seg.Cut {
		o.logger.Debug("utterance cut at maximum length", zap.Duration("voiced", seg.Voiced))
	}

	buf := seg.Samples
	rate := o.cfg.SampleRate
	o.startTask(ctx, taskTranscribe, func(ctx context.Context) (string, error) {
		defer o.segmenter.Release(buf)
		stt, err := stageService(ctx, o.resolve, o.stt, types.CapabilitySTT)
		if err != nil {
			return "", err
		}
		res, err := stt.Transcribe(ctx, *buf, rate)
		return res.Text, err
	})
}

func (o *Orchestrator) endOfInput(ctx context.Context) {
	if o.machine.State() == StateProcessingSpeech && o.task == nil && o.segmenter.Speaking() {
		if seg := o.segmenter.Flush(); seg.Event == SegmentEnded {
			o.speechEnded(ctx, seg)
		}
		return
	}
	o.segmenter.Reset()
}

// =============================================================================
// Stage tasks
// =============================================================================

func (o *Orchestrator) startTask(ctx context.Context, kind taskKind, fn func(context.Context) (string, error)) {
	tctx, cancel := context.WithCancel(ctx)
	t := &task{kind: kind, cancel: cancel, done: make(chan taskResult, 1)}
	o.task = t

	go func() {
		text, err := runStage(tctx, fn)
		t.done <- taskResult{kind: kind, text: text, err: err}
	}()
}

func runStage(ctx context.Context, fn func(context.Context) (string, error)) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline stage: %v", r)
		}
	}()
	return fn(ctx)
}

// abortTask cancels the in-flight task, stops playback and waits for the
// task to exit.
func (o *Orchestrator) abortTask() {
	t := o.task
	if t == nil {
		return
	}
	o.task = nil
	t.cancel()
	if err := o.sink.Stop(); err != nil {
		o.logger.Warn("sink stop failed", zap.Error(err))
	}
	<-t.done
}

func (o *Orchestrator) handleResult(ctx context.Context, res taskResult) {
	if res.err != nil {
		o.stageError(res.kind.stage(), res.err)
		return
	}
	o.failures = 0

	switch res.kind {
	case taskTranscribe:
		if IsNonSpeech(res.text) {
			o.machine.Fire(TriggerTranscriptEmpty)
			return
		}
		o.emit(EventFinalResult, StateProcessingSpeech, res.text, nil)
		o.machine.Fire(TriggerTranscriptReady)
		o.startGenerate(ctx, res.text)

	case taskGenerate:
		o.emit(EventFinalResult, StateGeneratingResponse, res.text, nil)
		o.machine.Fire(TriggerResponseReady)
		o.setPlayback(true)
		o.startSynthesize(ctx, res.text)

	case taskSynthesize:
		o.setPlayback(false)
		o.machine.Fire(TriggerSynthesisDone)
		o.segmenter.Reset()
		o.resetVAD()
		o.cooldown = time.NewTimer(o.cfg.Cooldown)
	}
}

func (o *Orchestrator) startGenerate(ctx context.Context, prompt string) {
	o.startTask(ctx, taskGenerate, func(ctx context.Context) (string, error) {
		llm, err := stageService(ctx, o.resolve, o.llm, types.CapabilityTextGeneration)
		if err != nil {
			return "", err
		}
		return llm.Generate(ctx, prompt, func(token string) {
			o.emit(EventPartialResult, StateGeneratingResponse, token, nil)
		})
	})
}

func (o *Orchestrator) startSynthesize(ctx context.Context, text string) {
	rate := o.cfg.SampleRate
	o.startTask(ctx, taskSynthesize, func(ctx context.Context) (string, error) {
		tts, err := stageService(ctx, o.resolve, o.tts, types.CapabilityTTS)
		if err != nil {
			return "", err
		}
		buf := o.buffers.Get()
		defer o.buffers.Put(buf)

		err = tts.Synthesize(ctx, text, func(chunk AudioChunk) error {
			start := len(*buf)
			*buf = append(*buf, chunk.Samples...)
			chunk.Samples = (*buf)[start:]
			if chunk.SampleRate <= 0 {
				chunk.SampleRate = rate
			}
			return o.sink.Play(ctx, chunk)
		})
		return "", err
	})
}

func (o *Orchestrator) stageError(stage State, err error) {
	serr := types.NewStageFailedError(string(stage), err)
	o.failures++
	o.metrics.StageFailure(string(stage))
	o.logger.Warn("pipeline stage failed",
		zap.String("stage", string(stage)),
		zap.Int("consecutive_failures", o.failures),
		zap.Error(err))
	o.emit(EventError, stage, "", serr)

	o.segmenter.Reset()
	if o.failures > o.cfg.MaxConsecutiveFailures {
		o.abortTask()
		o.stopCooldown()
		o.setPlayback(false)
		o.machine.Fire(TriggerFatal)
		o.logger.Error("voice pipeline halted after repeated failures", zap.Int("failures", o.failures))
		return
	}

	switch o.machine.State() {
	case StateProcessingSpeech, StateGeneratingResponse, StatePlayingSynthesis:
		o.abortTask()
		o.setPlayback(false)
		o.machine.Fire(TriggerStageFailed)
	}
}

// =============================================================================
// Service resolution
// =============================================================================

// stageService returns static when there is no resolver, otherwise the
// resolver's current service for capability.
func stageService[T any](ctx context.Context, resolve Resolver, static T, capability types.Capability) (T, error) {
	var zero T
	if resolve == nil {
		return static, nil
	}
	svc, err := resolve(ctx, capability)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, types.Errorf(types.ErrInvalidRequest, "%s service %T does not implement %s", capability, svc, reflect.TypeFor[T]())
	}
	return typed, nil
}

// refreshVAD re-resolves the detector between utterances. It reports
// whether a detector is available.
func (o *Orchestrator) refreshVAD(ctx context.Context) bool {
	if o.resolve == nil {
		return o.vad != nil
	}
	vad, err := stageService[VAD](ctx, o.resolve, nil, types.CapabilityVAD)
	if err != nil {
		o.stageError(StateListening, fmt.Errorf("vad: %w", err))
		return false
	}
	o.useVAD(vad)
	return true
}

func (o *Orchestrator) useVAD(vad VAD) {
	o.vad = vad
	o.playback = nil
	if pa, ok := vad.(PlaybackAware); ok {
		o.playback = pa
	}
}

func (o *Orchestrator) resetVAD() {
	if o.vad != nil {
		o.vad.Reset()
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (o *Orchestrator) stopCooldown() {
	if o.cooldown != nil {
		o.cooldown.Stop()
		o.cooldown = nil
	}
}

func (o *Orchestrator) setPlayback(active bool) {
	if o.playing == active {
		return
	}
	o.playing = active
	if o.playback != nil {
		o.playback.SetPlaybackActive(active)
	}
}

func (o *Orchestrator) emit(kind EventKind, stage State, payload string, err *types.Error) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.seq++
	ev := Event{
		ID:        uuid.New(),
		SessionID: o.sessionID,
		Seq:       o.seq,
		Stage:     stage,
		Kind:      kind,
		Payload:   payload,
		Err:       err,
		At:        time.Now(),
	}
	select {
	case o.events <- ev:
	default:
		o.dropped.Add(1)
	}
}
