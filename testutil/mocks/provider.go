// Provider 的测试模拟实现。
//
// 支持延迟、错误注入、panic 注入与并发探针，用于验证协调器的调度行为。
package mocks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/edgeflow/types"
)

// --- 并发探针 ---

// ConcurrencyProbe records how many callers are inside a section at once.
// Share one probe between providers to measure a whole batch.
type ConcurrencyProbe struct {
	current atomic.Int32
	peak    atomic.Int32
}

// Enter marks one caller entering.
func (p *ConcurrencyProbe) Enter() {
	n := p.current.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

// Exit marks one caller leaving.
func (p *ConcurrencyProbe) Exit() { p.current.Add(-1) }

// Current returns the number of callers inside.
func (p *ConcurrencyProbe) Current() int { return int(p.current.Load()) }

// Peak returns the highest concurrency observed.
func (p *ConcurrencyProbe) Peak() int { return int(p.peak.Load()) }

// --- Service ---

// Service is the opaque handle returned by the mock provider.
type Service struct {
	Provider   string
	Capability types.Capability
	ModelID    string
	closed     atomic.Bool
}

// Close marks the service released.
func (s *Service) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *Service) Closed() bool { return s.closed.Load() }

// --- MockProvider ---

// Provider 是 capability.Provider 的模拟实现
type Provider struct {
	name       string
	framework  types.Framework
	modalities []types.Capability

	canHandle func(*types.ModelDescriptor) bool
	memory    int64
	delay     time.Duration
	err       error
	panicVal  any
	hookErr   error
	probe     *ConcurrencyProbe
	factory   func(types.Capability, string) any

	mu          sync.Mutex
	createCalls int
	loadCalls   int
	hookCalls   int
	services    []*Service
}

// NewProvider creates a provider that accepts every model.
func NewProvider(name string, framework types.Framework, modalities ...types.Capability) *Provider {
	return &Provider{
		name:       name,
		framework:  framework,
		modalities: modalities,
	}
}

// WithCanHandle sets the compatibility predicate.
func (p *Provider) WithCanHandle(fn func(*types.ModelDescriptor) bool) *Provider {
	p.canHandle = fn
	return p
}

// WithMemory sets the estimated memory for every model.
func (p *Provider) WithMemory(bytes int64) *Provider {
	p.memory = bytes
	return p
}

// WithDelay makes CreateService and LoadModel take d.
func (p *Provider) WithDelay(d time.Duration) *Provider {
	p.delay = d
	return p
}

// WithError makes CreateService and LoadModel fail.
func (p *Provider) WithError(err error) *Provider {
	p.err = err
	return p
}

// WithPanic makes CreateService and LoadModel panic with v.
func (p *Provider) WithPanic(v any) *Provider {
	p.panicVal = v
	return p
}

// WithHookError makes OnRegistration fail.
func (p *Provider) WithHookError(err error) *Provider {
	p.hookErr = err
	return p
}

// WithProbe attaches a concurrency probe to service creation.
func (p *Provider) WithProbe(probe *ConcurrencyProbe) *Provider {
	p.probe = probe
	return p
}

// WithServiceFactory replaces the default *Service with fn's result.
func (p *Provider) WithServiceFactory(fn func(capability types.Capability, modelID string) any) *Provider {
	p.factory = fn
	return p
}

// Name implements capability.Provider.
func (p *Provider) Name() string { return p.name }

// Framework implements capability.Provider.
func (p *Provider) Framework() types.Framework { return p.framework }

// SupportedModalities implements capability.Provider.
func (p *Provider) SupportedModalities() []types.Capability { return slices.Clone(p.modalities) }

// CanHandle implements capability.Provider.
func (p *Provider) CanHandle(model *types.ModelDescriptor) bool {
	if p.canHandle == nil {
		return true
	}
	return p.canHandle(model)
}

// CreateService implements capability.Provider.
func (p *Provider) CreateService(ctx context.Context, capability types.Capability) (any, error) {
	p.mu.Lock()
	p.createCalls++
	p.mu.Unlock()
	return p.build(ctx, capability, "")
}

// LoadModel implements capability.Provider.
func (p *Provider) LoadModel(ctx context.Context, model *types.ModelDescriptor, capability types.Capability) (any, error) {
	p.mu.Lock()
	p.loadCalls++
	p.mu.Unlock()
	id := ""
	if model != nil {
		id = model.ID
	}
	return p.build(ctx, capability, id)
}

// EstimateMemoryUsage implements capability.Provider.
func (p *Provider) EstimateMemoryUsage(model *types.ModelDescriptor) int64 {
	if p.memory > 0 {
		return p.memory
	}
	if model != nil {
		return model.MemoryRequired
	}
	return 0
}

// OnRegistration implements capability.RegistrationHook.
func (p *Provider) OnRegistration() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hookCalls++
	return p.hookErr
}

func (p *Provider) build(ctx context.Context, capability types.Capability, modelID string) (any, error) {
	if p.probe != nil {
		p.probe.Enter()
		defer p.probe.Exit()
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.panicVal != nil {
		panic(p.panicVal)
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.factory != nil {
		return p.factory(capability, modelID), nil
	}
	svc := &Service{Provider: p.name, Capability: capability, ModelID: modelID}
	p.mu.Lock()
	p.services = append(p.services, svc)
	p.mu.Unlock()
	return svc, nil
}

// --- 调用记录 ---

// CreateCalls returns the number of CreateService calls.
func (p *Provider) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

// LoadCalls returns the number of LoadModel calls.
func (p *Provider) LoadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadCalls
}

// HookCalls returns the number of OnRegistration calls.
func (p *Provider) HookCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hookCalls
}

// Services returns every service built so far.
func (p *Provider) Services() []*Service {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.services)
}

// String implements fmt.Stringer.
func (p *Provider) String() string {
	return fmt.Sprintf("mock(%s/%s)", p.name, p.framework)
}
