package lifecycle

import (
	"context"
	"io"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/internal/metrics"
	"github.com/BaSui01/edgeflow/types"
)

// Handle describes a loaded model instance. Callers only ever receive copies.
type Handle struct {
	ModelID     string           `json:"model_id"`
	Framework   types.Framework  `json:"framework"`
	Modality    types.Capability `json:"modality"`
	MemoryBytes int64            `json:"memory_bytes"`
	Service     any              `json:"-"`
	LoadedAt    time.Time        `json:"loaded_at"`
	LastUsed    time.Time        `json:"last_used"`
	Generation  uint64           `json:"generation"`
}

type entry struct {
	handle   Handle
	lastUsed atomic.Int64
}

func (e *entry) snapshot() Handle {
	h := e.handle
	h.LastUsed = time.Unix(0, e.lastUsed.Load())
	return h
}

// Config configures a Tracker.
type Config struct {
	// Budget is the memory ceiling in bytes. Zero means unlimited.
	Budget              int64   `yaml:"budget" env:"BUDGET"`
	WarningTargetRatio  float64 `yaml:"warning_target_ratio" env:"WARNING_TARGET_RATIO"`
	CriticalTargetRatio float64 `yaml:"critical_target_ratio" env:"CRITICAL_TARGET_RATIO"`
	EventBuffer         int     `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// DefaultConfig returns the tracker defaults.
func DefaultConfig() Config {
	return Config{
		WarningTargetRatio:  0.8,
		CriticalTargetRatio: 0.5,
		EventBuffer:         64,
	}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(t *Tracker) { t.metrics = metrics.OrNop(rec) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker caches loaded model instances per modality.
//
// All mutations are serialized by writeMu. The maps are guarded by mu, so
// readers only ever see states that a single writer step produced.
type Tracker struct {
	writeMu sync.Mutex
	evictMu sync.Mutex

	mu        sync.RWMutex
	handles   map[types.Capability]*entry
	unloading map[types.Capability]*entry
	states    map[types.Capability]StateInfo

	budget        atomic.Int64
	warningRatio  float64
	criticalRatio float64
	generation    uint64

	events  chan Event
	dropped atomic.Int64

	now     func() time.Time
	logger  *zap.Logger
	metrics metrics.Recorder
}

// NewTracker creates a tracker.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.WarningTargetRatio <= 0 || cfg.WarningTargetRatio > 1 {
		cfg.WarningTargetRatio = def.WarningTargetRatio
	}
	if cfg.CriticalTargetRatio <= 0 || cfg.CriticalTargetRatio > 1 {
		cfg.CriticalTargetRatio = def.CriticalTargetRatio
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	t := &Tracker{
		handles:       make(map[types.Capability]*entry),
		unloading:     make(map[types.Capability]*entry),
		states:        make(map[types.Capability]StateInfo),
		warningRatio:  cfg.WarningTargetRatio,
		criticalRatio: cfg.CriticalTargetRatio,
		events:        make(chan Event, cfg.EventBuffer),
		now:           time.Now,
		logger:        zap.NewNop(),
		metrics:       metrics.Nop{},
	}
	t.budget.Store(cfg.Budget)
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "lifecycle_tracker"))
	return t
}

// Budget returns the memory budget in bytes. Zero means unlimited.
func (t *Tracker) Budget() int64 { return t.budget.Load() }

// SetBudget replaces the memory budget.
func (t *Tracker) SetBudget(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}
	t.budget.Store(bytes)
	t.logger.Info("memory budget updated", zap.Int64("budget", bytes))
}

// Events returns the lifecycle event channel.
func (t *Tracker) Events() <-chan Event { return t.events }

// DroppedEvents returns how many events were dropped on a full buffer.
func (t *Tracker) DroppedEvents() int64 { return t.dropped.Load() }

// =============================================================================
// Writer API
// =============================================================================

// WillLoad marks modelID as loading for the modality.
func (t *Tracker) WillLoad(modelID string, modality types.Capability) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.setState(modality, StateInfo{State: StateLoading, ModelID: modelID})
	t.publish(Event{Kind: EventWillLoad, ModelID: modelID, Modality: modality})
}

// UpdateProgress records load progress, clamped to [0,1]. It fails when the
// modality is not loading modelID.
func (t *Tracker) UpdateProgress(modelID string, modality types.Capability, progress float64) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	st := t.states[modality]
	t.mu.RUnlock()
	if st.State != StateLoading || st.ModelID != modelID {
		return types.Errorf(types.ErrInvalidStateTransition,
			"cannot update progress of %s for %s in state %s", modelID, modality, stateOrNotLoaded(st.State))
	}

	progress = min(max(progress, 0), 1)
	t.setState(modality, StateInfo{State: StateLoading, ModelID: modelID, Progress: progress})
	t.publish(Event{Kind: EventProgress, ModelID: modelID, Modality: modality, Progress: progress})
	return nil
}

// DidLoad installs a handle for the modality. A previous handle goes
// through the regular unload path and is released before the new one
// becomes visible.
func (t *Tracker) DidLoad(modelID string, modality types.Capability, memoryBytes int64, service any, framework types.Framework) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	old := t.handles[modality]
	reused := old != nil && sameService(old.handle.Service, service)
	if reused {
		delete(t.handles, modality)
	}
	t.mu.Unlock()

	if old != nil && !reused {
		_ = t.unload(context.Background(), modality)
	}

	now := t.now()
	t.generation++
	e := &entry{handle: Handle{
		ModelID:     modelID,
		Framework:   framework,
		Modality:    modality,
		MemoryBytes: memoryBytes,
		Service:     service,
		LoadedAt:    now,
		Generation:  t.generation,
	}}
	e.lastUsed.Store(now.UnixNano())

	t.mu.Lock()
	t.handles[modality] = e
	t.states[modality] = StateInfo{State: StateLoaded, ModelID: modelID, Progress: 1}
	t.mu.Unlock()

	t.logger.Info("model loaded",
		zap.String("model_id", modelID),
		zap.String("modality", string(modality)),
		zap.String("framework", string(framework)),
		zap.Int64("memory_bytes", memoryBytes))
	t.publish(Event{Kind: EventDidLoad, ModelID: modelID, Modality: modality, Progress: 1})
	t.reportGauge()
}

// LoadFailed records a failed load. No handle is installed.
func (t *Tracker) LoadFailed(modelID string, modality types.Capability, err error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.setState(modality, StateInfo{State: StateError, ModelID: modelID, Message: msg})
	t.logger.Warn("model load failed",
		zap.String("model_id", modelID),
		zap.String("modality", string(modality)),
		zap.Error(err))
	t.publish(Event{Kind: EventLoadFailed, ModelID: modelID, Modality: modality, Err: msg})
}

// WillUnload hides the modality's handle. Lookups miss from here on.
func (t *Tracker) WillUnload(modality types.Capability) (Handle, bool) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.willUnload(modality)
}

// DidUnload records that modelID is no longer loaded for the modality. It
// finalizes an unload started by WillUnload, or removes a still visible
// handle when the backend unloaded the model on its own. The service is
// not released: the caller already did that. A modelID that matches
// neither is ignored.
func (t *Tracker) DidUnload(modelID string, modality types.Capability) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.didUnload(modelID, modality)
}

// Unload hides, releases and finalizes the modality's handle.
func (t *Tracker) Unload(ctx context.Context, modality types.Capability) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.unload(ctx, modality)
}

func (t *Tracker) unload(ctx context.Context, modality types.Capability) error {
	h, ok := t.willUnload(modality)
	if !ok {
		return nil
	}
	err := Release(ctx, h.Service)
	if err != nil {
		t.logger.Warn("release model failed",
			zap.String("model_id", h.ModelID),
			zap.String("modality", string(modality)),
			zap.Error(err))
	}
	t.didUnload(h.ModelID, modality)
	return err
}

func (t *Tracker) willUnload(modality types.Capability) (Handle, bool) {
	t.mu.Lock()
	e, ok := t.handles[modality]
	if ok {
		delete(t.handles, modality)
		t.unloading[modality] = e
		t.states[modality] = StateInfo{State: StateUnloading, ModelID: e.handle.ModelID}
	}
	t.mu.Unlock()
	if !ok {
		return Handle{}, false
	}
	t.publish(Event{Kind: EventWillUnload, ModelID: e.handle.ModelID, Modality: modality})
	return e.snapshot(), true
}

func (t *Tracker) didUnload(modelID string, modality types.Capability) {
	t.mu.Lock()
	e, ok := t.unloading[modality]
	switch {
	case ok && e.handle.ModelID == modelID:
		delete(t.unloading, modality)
	default:
		e, ok = t.handles[modality]
		ok = ok && e.handle.ModelID == modelID
		if ok {
			delete(t.handles, modality)
		}
	}
	if st := t.states[modality]; ok && st.ModelID == modelID &&
		(st.State == StateUnloading || st.State == StateLoaded) {
		delete(t.states, modality)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.logger.Info("model unloaded",
		zap.String("model_id", e.handle.ModelID),
		zap.String("modality", string(modality)))
	t.publish(Event{Kind: EventDidUnload, ModelID: e.handle.ModelID, Modality: modality})
	t.reportGauge()
}

func (t *Tracker) setState(modality types.Capability, st StateInfo) {
	t.mu.Lock()
	t.states[modality] = st
	t.mu.Unlock()
}

func (t *Tracker) publish(ev Event) {
	ev.At = t.now()
	select {
	case t.events <- ev:
	default:
		t.dropped.Add(1)
		t.metrics.TrackerEventDropped()
	}
}

func (t *Tracker) reportGauge() {
	t.mu.RLock()
	n := len(t.handles)
	var total int64
	for _, e := range t.handles {
		total += e.handle.MemoryBytes
	}
	t.mu.RUnlock()
	t.metrics.ModelsLoaded(n, total)
}

// =============================================================================
// Reader API
// =============================================================================

// ServiceFor returns the cached service for modelID and marks it used.
// When the model is loaded under several modalities the first one in
// types.AllCapabilities order wins.
func (t *Tracker) ServiceFor(modelID string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, modality := range types.AllCapabilities() {
		if e, ok := t.handles[modality]; ok && e.handle.ModelID == modelID {
			e.lastUsed.Store(t.now().UnixNano())
			return e.handle.Service, true
		}
	}
	return nil, false
}

// Handle returns a copy of the modality's visible handle.
func (t *Tracker) Handle(modality types.Capability) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.handles[modality]
	if !ok {
		return Handle{}, false
	}
	return e.snapshot(), true
}

// States returns the load state of every known modality.
func (t *Tracker) States() map[types.Capability]StateInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[types.Capability]StateInfo, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}

// TotalMemory returns the bytes held by loaded and not yet released models.
func (t *Tracker) TotalMemory() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total int64
	for _, e := range t.handles {
		total += e.handle.MemoryBytes
	}
	for _, e := range t.unloading {
		total += e.handle.MemoryBytes
	}
	return total
}

// Loaded returns copies of all visible handles ordered by modality.
func (t *Tracker) Loaded() []Handle {
	t.mu.RLock()
	out := make([]Handle, 0, len(t.handles))
	for _, e := range t.handles {
		out = append(out, e.snapshot())
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b Handle) int {
		switch {
		case a.Modality < b.Modality:
			return -1
		case a.Modality > b.Modality:
			return 1
		}
		return 0
	})
	return out
}

// Release frees a service. It calls Cleanup(ctx) or Close when the service
// implements one of them.
func Release(ctx context.Context, service any) error {
	switch s := service.(type) {
	case nil:
		return nil
	case interface{ Cleanup(context.Context) error }:
		return s.Cleanup(ctx)
	case io.Closer:
		return s.Close()
	case interface{ Close() }:
		s.Close()
	}
	return nil
}

func sameService(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func stateOrNotLoaded(s LoadState) LoadState {
	if s == "" {
		return StateNotLoaded
	}
	return s
}
