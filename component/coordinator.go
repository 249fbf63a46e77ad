package component

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/edgeflow/capability"
	"github.com/BaSui01/edgeflow/internal/metrics"
	"github.com/BaSui01/edgeflow/internal/pool"
	"github.com/BaSui01/edgeflow/lifecycle"
	"github.com/BaSui01/edgeflow/types"
)

const tracerName = "github.com/BaSui01/edgeflow/component"

// Config configures a Coordinator.
type Config struct {
	// FanOut bounds concurrent lightweight initializations. Values below 1
	// are treated as 1.
	FanOut int `yaml:"fan_out" env:"FAN_OUT"`
	// MemoryBudget caps tracked model memory in bytes. Zero defers to the
	// tracker's budget.
	MemoryBudget int64 `yaml:"memory_budget" env:"MEMORY_BUDGET"`
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{FanOut: 4}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = metrics.OrNop(rec) }
}

// WithTracer sets the tracer used for per-component spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

type component struct {
	desc      Descriptor
	state     State
	provider  capability.Provider
	service   any
	err       error
	readySeq  uint64
	readyAt   time.Time
	trackerID string
}

// Coordinator brings up components for a batch of descriptors and owns
// their lifecycle afterwards.
type Coordinator struct {
	registry *capability.Registry
	tracker  *lifecycle.Tracker
	cfg      Config

	mu         sync.RWMutex
	components map[types.Capability]*component
	readySeq   uint64

	// heavyMu admits one heavy initialization at a time across batches.
	heavyMu sync.Mutex
	// reloadMu serializes reloads of evicted models in Acquire.
	reloadMu sync.Mutex

	logger  *zap.Logger
	metrics metrics.Recorder
	tracer  trace.Tracer
}

// NewCoordinator creates a coordinator.
func NewCoordinator(registry *capability.Registry, tracker *lifecycle.Tracker, cfg Config, opts ...Option) *Coordinator {
	if cfg.FanOut < 1 {
		cfg.FanOut = 1
	}
	c := &Coordinator{
		registry:   registry,
		tracker:    tracker,
		cfg:        cfg,
		components: make(map[types.Capability]*component),
		logger:     zap.NewNop(),
		metrics:    metrics.Nop{},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "coordinator"))
	return c
}

// =============================================================================
// Initialization
// =============================================================================

// InitializationResult aggregates the outcome of one Initialize call.
type InitializationResult struct {
	Results  []Result      `json:"results"`
	Duration time.Duration `json:"duration"`
}

// AllReady reports whether every requested component is ready.
func (r *InitializationResult) AllReady() bool {
	for _, res := range r.Results {
		if res.State != StateReady {
			return false
		}
	}
	return true
}

// Failed returns the results that did not become ready.
func (r *InitializationResult) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.State != StateReady {
			out = append(out, res)
		}
	}
	return out
}

// Get returns the result for a capability.
func (r *InitializationResult) Get(capability types.Capability) (Result, bool) {
	for _, res := range r.Results {
		if res.Capability == capability {
			return res, true
		}
	}
	return Result{}, false
}

// Err joins every failure, or returns nil.
func (r *InitializationResult) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Capability, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Initialize brings up descs. Lightweight components run concurrently
// bounded by FanOut; heavy components run one at a time in priority order.
// Failures are isolated per component.
func (c *Coordinator) Initialize(ctx context.Context, descs []Descriptor) *InitializationResult {
	start := time.Now()
	batch := prepareBatch(descs)
	results := make([]Result, len(batch))

	var light, heavy []int
	for i, d := range batch {
		if d.Heavy() {
			heavy = append(heavy, i)
		} else {
			light = append(light, i)
		}
	}

	c.logger.Info("initializing components",
		zap.Int("lightweight", len(light)),
		zap.Int("heavy", len(heavy)),
		zap.Int("fan_out", c.cfg.FanOut))

	wp := pool.NewWorkerPool(pool.Config{
		MaxWorkers: c.cfg.FanOut,
		QueueSize:  len(light),
	})
	submitErrs := make([]error, len(batch))

	var g errgroup.Group
	for _, i := range light {
		g.Go(func() error {
			submitErrs[i] = wp.SubmitWait(ctx, func(ctx context.Context) error {
				results[i] = c.initialize(ctx, batch[i])
				return nil
			})
			return nil
		})
	}
	g.Go(func() error {
		for _, i := range heavy {
			results[i] = c.initializeHeavy(ctx, batch[i])
		}
		return nil
	})
	_ = g.Wait()
	// Close waits for every worker, so results written by tasks are visible.
	wp.Close()

	for i, err := range submitErrs {
		if results[i].State == "" {
			results[i] = c.notStarted(batch[i], err)
		}
	}

	res := &InitializationResult{Results: results, Duration: time.Since(start)}
	c.logger.Info("component batch finished",
		zap.Bool("all_ready", res.AllReady()),
		zap.Int("failed", len(res.Failed())),
		zap.Duration("duration", res.Duration))
	return res
}

// prepareBatch sorts by priority, highest first, keeping the first
// descriptor per capability.
func prepareBatch(descs []Descriptor) []Descriptor {
	sorted := slices.Clone(descs)
	slices.SortStableFunc(sorted, func(a, b Descriptor) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	seen := make(map[types.Capability]bool, len(sorted))
	out := sorted[:0]
	for _, d := range sorted {
		if seen[d.Capability] {
			continue
		}
		seen[d.Capability] = true
		out = append(out, d)
	}
	return out
}

func (c *Coordinator) initializeHeavy(ctx context.Context, d Descriptor) Result {
	c.heavyMu.Lock()
	defer c.heavyMu.Unlock()
	return c.initialize(ctx, d)
}

func (c *Coordinator) notStarted(d Descriptor, err error) Result {
	if err == nil {
		err = context.Canceled
	}
	return Result{
		Capability: d.Capability,
		State:      c.Status(d.Capability),
		ModelID:    d.ModelID(),
		Err: types.NewError(types.ErrComponentInitializationFailed, "initialization not started").
			WithCause(err),
	}
}

func (c *Coordinator) initialize(ctx context.Context, d Descriptor) (res Result) {
	start := time.Now()
	res = Result{Capability: d.Capability, ModelID: d.ModelID()}

	ctx, span := c.tracer.Start(ctx, "component.initialize", trace.WithAttributes(
		attribute.String("edgeflow.capability", string(d.Capability)),
		attribute.String("edgeflow.model_id", d.ModelID()),
		attribute.Bool("edgeflow.heavy", d.Heavy()),
	))
	defer func() {
		res.Duration = time.Since(start)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.SetAttributes(attribute.String("edgeflow.state", string(res.State)))
		span.End()
		c.metrics.ComponentInit(string(d.Capability), res.Provider, string(res.State), res.Duration)
	}()

	comp, noop, err := c.claim(ctx, d)
	if err != nil {
		res.State = c.Status(d.Capability)
		res.Err = err
		return res
	}
	if noop {
		c.mu.RLock()
		res.State = comp.state
		res.Provider = comp.provider.Name()
		res.Framework = comp.provider.Framework()
		c.mu.RUnlock()
		res.Cached = true
		return res
	}

	provider, service, cached, err := c.build(ctx, d)
	if provider != nil {
		res.Provider = provider.Name()
		res.Framework = provider.Framework()
	}
	res.Cached = cached

	c.mu.Lock()
	comp.provider = provider
	if err != nil {
		comp.state = StateFailed
		comp.err = err
		comp.service = nil
	} else {
		c.readySeq++
		comp.state = StateReady
		comp.err = nil
		comp.service = service
		comp.readySeq = c.readySeq
		comp.readyAt = time.Now()
		comp.trackerID = d.ModelID()
	}
	res.State = comp.state
	c.mu.Unlock()
	res.Err = err

	if err != nil {
		c.logger.Warn("component initialization failed",
			zap.String("capability", string(d.Capability)),
			zap.String("model_id", d.ModelID()),
			zap.Error(err))
	} else {
		c.logger.Info("component ready",
			zap.String("capability", string(d.Capability)),
			zap.String("provider", res.Provider),
			zap.String("model_id", d.ModelID()),
			zap.Bool("cached", cached),
			zap.Duration("duration", time.Since(start)))
	}
	return res
}

// claim moves the component for d into Initializing. A Ready component with
// the same configuration is a no-op; a different configuration is torn down
// first.
func (c *Coordinator) claim(ctx context.Context, d Descriptor) (*component, bool, error) {
	c.mu.Lock()
	comp, ok := c.components[d.Capability]
	if !ok {
		comp = &component{desc: d, state: StateUninitialized}
		c.components[d.Capability] = comp
	}

	switch comp.state {
	case StateInitializing, StateCleaningUp:
		from := comp.state
		c.mu.Unlock()
		return nil, false, transitionError(d.Capability, from, StateInitializing)

	case StateReady:
		if comp.desc.sameConfig(d) {
			c.mu.Unlock()
			return comp, true, nil
		}
		comp.state = StateCleaningUp
		old := *comp
		c.mu.Unlock()

		c.logger.Info("reconfiguring component",
			zap.String("capability", string(d.Capability)),
			zap.String("old_model_id", old.desc.ModelID()),
			zap.String("new_model_id", d.ModelID()))
		if err := c.release(ctx, &old); err != nil {
			c.logger.Warn("teardown before reconfigure failed",
				zap.String("capability", string(d.Capability)),
				zap.Error(err))
		}

		c.mu.Lock()
		comp.state = StateUninitialized
		comp.service = nil
	}

	if !CanTransition(comp.state, StateInitializing) {
		from := comp.state
		c.mu.Unlock()
		return nil, false, transitionError(d.Capability, from, StateInitializing)
	}
	comp.state = StateInitializing
	comp.desc = d
	comp.err = nil
	c.mu.Unlock()
	return comp, false, nil
}

// build resolves a provider, checks the budget and creates the service.
func (c *Coordinator) build(ctx context.Context, d Descriptor) (capability.Provider, any, bool, error) {
	provider, err := c.registry.Resolve(d.Capability, d.Model)
	if err != nil {
		return nil, nil, false, err
	}

	if d.Model != nil {
		if svc, ok := c.tracker.ServiceFor(d.Model.ID); ok {
			return provider, svc, true, nil
		}
	}

	estimate := provider.EstimateMemoryUsage(d.Model)
	if err := c.ensureBudget(ctx, estimate); err != nil {
		return provider, nil, false, err
	}

	if d.Model == nil {
		svc, err := safeCall(func() (any, error) { return provider.CreateService(ctx, d.Capability) })
		if err != nil {
			return provider, nil, false, initError(provider, err)
		}
		return provider, svc, false, nil
	}

	svc, err := c.loadModel(ctx, provider, d, estimate)
	return provider, svc, false, err
}

func (c *Coordinator) loadModel(ctx context.Context, provider capability.Provider, d Descriptor, estimate int64) (any, error) {
	c.tracker.WillLoad(d.Model.ID, d.Capability)
	svc, err := safeCall(func() (any, error) { return provider.LoadModel(ctx, d.Model, d.Capability) })
	if err != nil {
		c.tracker.LoadFailed(d.Model.ID, d.Capability, err)
		return nil, initError(provider, err)
	}
	c.tracker.DidLoad(d.Model.ID, d.Capability, estimate, svc, provider.Framework())
	return svc, nil
}

func (c *Coordinator) ensureBudget(ctx context.Context, need int64) error {
	budget := c.budget()
	if budget <= 0 || need <= 0 {
		return nil
	}
	if c.tracker.TotalMemory()+need <= budget {
		return nil
	}
	c.tracker.Reclaim(ctx, need)
	if total := c.tracker.TotalMemory(); total+need > budget {
		return types.NewResourceExhaustedError(need, budget-total)
	}
	return nil
}

func (c *Coordinator) budget() int64 {
	if c.cfg.MemoryBudget > 0 {
		return c.cfg.MemoryBudget
	}
	return c.tracker.Budget()
}

func initError(provider capability.Provider, err error) error {
	var typed *types.Error
	if errors.As(err, &typed) && typed.Code == types.ErrComponentInitializationFailed {
		return err
	}
	return types.NewError(types.ErrComponentInitializationFailed, "component initialization failed").
		WithProvider(provider.Name()).
		WithCause(err)
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() (any, error)) (svc any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during initialization: %v", r)
		}
	}()
	return fn()
}

// =============================================================================
// Queries
// =============================================================================

// Status returns the state of a capability's component.
func (c *Coordinator) Status(capability types.Capability) State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if comp, ok := c.components[capability]; ok {
		return comp.state
	}
	return StateUninitialized
}

// IsReady reports whether the capability's component is ready.
func (c *Coordinator) IsReady(capability types.Capability) bool {
	return c.Status(capability) == StateReady
}

// Snapshot returns the status of every known component ordered by
// capability.
func (c *Coordinator) Snapshot() []Status {
	c.mu.RLock()
	out := make([]Status, 0, len(c.components))
	for capability, comp := range c.components {
		st := Status{
			Capability: capability,
			State:      comp.state,
			ModelID:    comp.desc.ModelID(),
			Heavy:      comp.desc.Heavy(),
			ReadyAt:    comp.readyAt,
		}
		if comp.provider != nil {
			st.Provider = comp.provider.Name()
			st.Framework = comp.provider.Framework()
		}
		if comp.err != nil {
			st.Error = comp.err.Error()
		}
		out = append(out, st)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.Capability, b.Capability) })
	return out
}

// Service returns the live service of a ready component.
func (c *Coordinator) Service(capability types.Capability) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	comp, ok := c.components[capability]
	if !ok || comp.state != StateReady {
		state := StateUninitialized
		if ok {
			state = comp.state
		}
		return nil, types.Errorf(types.ErrInvalidRequest, "component %s is not ready (state %s)", capability, state)
	}
	return comp.service, nil
}

// Acquire returns the component's service, reloading its model through the
// tracker if it was evicted since initialization.
func (c *Coordinator) Acquire(ctx context.Context, capability types.Capability) (any, error) {
	c.mu.RLock()
	comp, ok := c.components[capability]
	if !ok || comp.state != StateReady {
		c.mu.RUnlock()
		return c.Service(capability)
	}
	d, provider, service := comp.desc, comp.provider, comp.service
	c.mu.RUnlock()

	if d.Model == nil {
		return service, nil
	}
	if svc, ok := c.tracker.ServiceFor(d.Model.ID); ok {
		c.setService(capability, svc)
		return svc, nil
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	// 另一个调用者可能已完成重载
	if svc, ok := c.tracker.ServiceFor(d.Model.ID); ok {
		c.setService(capability, svc)
		return svc, nil
	}

	if d.Heavy() {
		c.heavyMu.Lock()
		defer c.heavyMu.Unlock()
	}

	c.logger.Info("reloading evicted model",
		zap.String("capability", string(capability)),
		zap.String("model_id", d.Model.ID))

	estimate := provider.EstimateMemoryUsage(d.Model)
	if err := c.ensureBudget(ctx, estimate); err != nil {
		return nil, err
	}
	svc, err := c.loadModel(ctx, provider, d, estimate)
	if err != nil {
		return nil, err
	}
	c.setService(capability, svc)
	return svc, nil
}

func (c *Coordinator) setService(capability types.Capability, svc any) {
	c.mu.Lock()
	if comp, ok := c.components[capability]; ok && comp.state == StateReady {
		comp.service = svc
	}
	c.mu.Unlock()
}

// =============================================================================
// Teardown
// =============================================================================

// Cleanup tears down every component in reverse readiness order.
func (c *Coordinator) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	var ready []*component
	for capability, comp := range c.components {
		switch comp.state {
		case StateReady:
			comp.state = StateCleaningUp
			ready = append(ready, comp)
		case StateFailed, StateUninitialized:
			delete(c.components, capability)
		}
	}
	c.mu.Unlock()

	slices.SortFunc(ready, func(a, b *component) int { return cmp.Compare(b.readySeq, a.readySeq) })

	var errs []error
	for _, comp := range ready {
		if err := c.release(ctx, comp); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", comp.desc.Capability, err))
		}
		c.mu.Lock()
		comp.state = StateUninitialized
		comp.service = nil
		delete(c.components, comp.desc.Capability)
		c.mu.Unlock()
		c.logger.Info("component cleaned up", zap.String("capability", string(comp.desc.Capability)))
	}
	return errors.Join(errs...)
}

// release frees a component's service. Model-backed services go through the
// tracker; others are released directly.
func (c *Coordinator) release(ctx context.Context, comp *component) error {
	if comp.trackerID != "" {
		if h, ok := c.tracker.Handle(comp.desc.Capability); ok && h.ModelID == comp.trackerID {
			return c.tracker.Unload(ctx, comp.desc.Capability)
		}
		// 已被驱逐或由其他模态持有
		return nil
	}
	return lifecycle.Release(ctx, comp.service)
}
