// Package edgeflow wires the capability registry, model lifecycle tracker,
// component coordinator and voice pipeline into one Runtime handle.
//
// Usage:
//
//	cfg, _ := config.NewLoader().WithConfigPath("edgeflow.yaml").Load()
//	rt, err := edgeflow.New(cfg, edgeflow.WithLogger(logger))
//	if err != nil { ... }
//	defer rt.Close(ctx)
//
//	rt.RegisterProvider(myWhisper, 10)
//	res := rt.Start(ctx)
//	pipe, err := rt.NewPipeline(ctx, speaker)
//	pipe.Run(ctx, microphone)
//
// The Runtime is passed by handle. Nothing in the module keeps a global
// registry.
package edgeflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/capability"
	"github.com/BaSui01/edgeflow/component"
	"github.com/BaSui01/edgeflow/config"
	"github.com/BaSui01/edgeflow/internal/metrics"
	"github.com/BaSui01/edgeflow/lifecycle"
	"github.com/BaSui01/edgeflow/providers/energyvad"
	"github.com/BaSui01/edgeflow/types"
	"github.com/BaSui01/edgeflow/voice"
)

// Version is the runtime version, overridden at build time.
var Version = "dev"

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder shared by every subsystem.
func WithMetrics(rec metrics.Recorder) Option {
	return func(r *Runtime) { r.metrics = metrics.OrNop(rec) }
}

// WithTracer sets the tracer for component initialization spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runtime) { r.tracer = tracer }
}

// WithoutBuiltins skips registration of the built-in energy VAD.
func WithoutBuiltins() Option {
	return func(r *Runtime) { r.skipBuiltins = true }
}

// Runtime owns one registry, tracker and coordinator.
type Runtime struct {
	mu  sync.RWMutex
	cfg *config.Config

	registry    *capability.Registry
	modules     *capability.ModuleRegistry
	tracker     *lifecycle.Tracker
	coordinator *component.Coordinator
	sweeper     *lifecycle.IdleSweeper

	ready   atomic.Bool
	started atomic.Bool
	closed  atomic.Bool

	skipBuiltins bool
	tracer       trace.Tracer
	logger       *zap.Logger
	metrics      metrics.Recorder
}

// New builds a Runtime from cfg. cfg must validate.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	logger := r.logger

	strategy, err := cfg.Registry.BuildStrategy()
	if err != nil {
		return nil, err
	}
	r.registry = capability.NewRegistry(capability.WithLogger(logger), capability.WithStrategy(strategy))
	r.modules = capability.NewModuleRegistry(logger)
	r.tracker = lifecycle.NewTracker(cfg.Tracker.Lifecycle(),
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(r.metrics))

	coordOpts := []component.Option{component.WithLogger(logger), component.WithMetrics(r.metrics)}
	if r.tracer != nil {
		coordOpts = append(coordOpts, component.WithTracer(r.tracer))
	}
	r.coordinator = component.NewCoordinator(r.registry, r.tracker, cfg.Coordinator, coordOpts...)

	if cfg.Tracker.SweepSpec != "" {
		r.sweeper, err = lifecycle.NewIdleSweeper(r.tracker, cfg.Tracker.SweepSpec, cfg.Tracker.MaxIdle, logger)
		if err != nil {
			return nil, err
		}
	}

	if !r.skipBuiltins {
		if err := r.registerBuiltins(); err != nil {
			return nil, err
		}
	}

	r.logger = logger.With(zap.String("component", "runtime"))
	return r, nil
}

func (r *Runtime) registerBuiltins() error {
	vad := energyvad.NewProvider(r.cfg.VAD, r.logger)
	if err := r.registry.Register(vad, r.cfg.VAD.Priority); err != nil {
		return fmt.Errorf("register %s: %w", vad.Name(), err)
	}
	return r.modules.Register(capability.ModuleInfo{
		ID:           energyvad.Name,
		Name:         "Energy VAD",
		Version:      Version,
		Description:  "Built-in RMS energy voice activity detector",
		Capabilities: vad.SupportedModalities(),
	})
}

// Registry returns the capability registry.
func (r *Runtime) Registry() *capability.Registry { return r.registry }

// Modules returns the backend module catalog.
func (r *Runtime) Modules() *capability.ModuleRegistry { return r.modules }

// Tracker returns the model lifecycle tracker.
func (r *Runtime) Tracker() *lifecycle.Tracker { return r.tracker }

// Coordinator returns the component coordinator.
func (r *Runtime) Coordinator() *component.Coordinator { return r.coordinator }

// Config returns the configuration last applied.
func (r *Runtime) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Ready reports whether the startup batch initialized completely.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// RegisterProvider registers p at priority.
func (r *Runtime) RegisterProvider(p capability.Provider, priority int) error {
	return r.registry.Register(p, priority)
}

// Start initializes the configured component batch and starts the idle
// sweeper. A second call returns nil.
func (r *Runtime) Start(ctx context.Context) *component.InitializationResult {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	if r.sweeper != nil {
		r.sweeper.Start()
	}

	descs := r.Config().Components
	res := r.coordinator.Initialize(ctx, descs)
	if res.AllReady() {
		r.ready.Store(true)
		r.logger.Info("runtime ready", zap.Int("components", len(descs)))
	} else {
		r.logger.Warn("runtime started with failed components", zap.Error(res.Err()))
	}
	return res
}

// WatchPressure feeds host memory-pressure levels to the tracker until ctx
// is done or ch is closed.
func (r *Runtime) WatchPressure(ctx context.Context, ch <-chan lifecycle.PressureLevel) {
	r.tracker.Watch(ctx, ch)
}

// Apply hot-applies the selection strategy and the tracker budget from cfg.
// Other sections take effect on restart.
func (r *Runtime) Apply(cfg *config.Config) error {
	strategy, err := cfg.Registry.BuildStrategy()
	if err != nil {
		return err
	}
	r.registry.SetStrategy(strategy)
	r.tracker.SetBudget(cfg.Tracker.Budget)

	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	r.logger.Info("runtime config applied",
		zap.String("strategy", cfg.Registry.Strategy),
		zap.Int64("budget", cfg.Tracker.Budget))
	return nil
}

// NewPipeline builds a voice orchestrator over the ready VAD, STT,
// text-generation and TTS components. Each stage is type-checked once here.
// The orchestrator then resolves its services through the coordinator
// before every task, so evicted models are reloaded rather than reused.
func (r *Runtime) NewPipeline(ctx context.Context, sink voice.AudioSink, opts ...voice.Option) (*voice.Orchestrator, error) {
	if _, err := acquire[voice.VAD](ctx, r.coordinator, types.CapabilityVAD); err != nil {
		return nil, err
	}
	if _, err := acquire[voice.Transcriber](ctx, r.coordinator, types.CapabilitySTT); err != nil {
		return nil, err
	}
	if _, err := acquire[voice.Generator](ctx, r.coordinator, types.CapabilityTextGeneration); err != nil {
		return nil, err
	}
	if _, err := acquire[voice.Synthesizer](ctx, r.coordinator, types.CapabilityTTS); err != nil {
		return nil, err
	}

	base := []voice.Option{voice.WithLogger(r.logger), voice.WithMetrics(r.metrics)}
	return voice.NewOrchestrator(voice.Components{
		Sink:    sink,
		Resolve: r.coordinator.Acquire,
	}, r.Config().Pipeline, append(base, opts...)...)
}

func acquire[T any](ctx context.Context, c *component.Coordinator, capability types.Capability) (T, error) {
	var zero T
	svc, err := c.Acquire(ctx, capability)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, types.Errorf(types.ErrInvalidRequest, "%s service %T does not implement %s", capability, svc, reflect.TypeFor[T]())
	}
	return typed, nil
}

// Close stops the sweeper and releases every component. Safe to call twice.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.ready.Store(false)
	if r.sweeper != nil && r.started.Load() {
		r.sweeper.Stop()
	}
	var errs []error
	if err := r.coordinator.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}
	r.logger.Info("runtime closed")
	return errors.Join(errs...)
}
