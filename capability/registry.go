package capability

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/types"
)

type entry struct {
	provider Provider
	priority int
	seq      uint64
}

// Registry holds providers per capability, ordered by priority descending
// and registration order ascending. Lists are copy-on-write: writers build a
// new sorted slice and swap it in under the lock, so readers always see a
// fully sorted snapshot.
type Registry struct {
	mu       sync.RWMutex
	lists    map[types.Capability][]entry
	strategy Strategy
	nextSeq  uint64
	logger   *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStrategy sets the initial selection strategy.
func WithStrategy(s Strategy) RegistryOption {
	return func(r *Registry) {
		if s != nil {
			r.strategy = s
		}
	}
}

// NewRegistry creates an empty registry using DefaultStrategy.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		lists:    make(map[types.Capability][]entry),
		strategy: DefaultStrategy{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "capability_registry"))
	return r
}

// Register adds p under every modality it supports. If p implements
// RegistrationHook, the hook runs first and its error aborts registration.
func (r *Registry) Register(p Provider, priority int) error {
	if p == nil {
		return types.NewError(types.ErrInvalidRequest, "provider is nil")
	}
	modalities := p.SupportedModalities()
	if len(modalities) == 0 {
		return types.Errorf(types.ErrInvalidRequest, "provider %q supports no modalities", p.Name())
	}
	for _, m := range modalities {
		if !m.Valid() {
			return types.Errorf(types.ErrInvalidRequest, "provider %q declares unknown capability %q", p.Name(), m)
		}
	}

	if hook, ok := p.(RegistrationHook); ok {
		if err := hook.OnRegistration(); err != nil {
			return types.Errorf(types.ErrComponentInitializationFailed, "registration hook for %q failed", p.Name()).
				WithCause(err).
				WithProvider(p.Name())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[types.Capability]struct{}, len(modalities))
	for _, m := range modalities {
		want[m] = struct{}{}
	}

	// Drop the name from capabilities it no longer declares.
	for c, list := range r.lists {
		if _, keep := want[c]; keep {
			continue
		}
		if idx := indexOf(list, p.Name()); idx >= 0 {
			r.lists[c] = removeAt(list, idx)
		}
	}

	var seq uint64
	assigned := false
	for c := range want {
		list := r.lists[c]
		next := make([]entry, 0, len(list)+1)
		replaced := false
		for _, e := range list {
			if e.provider.Name() == p.Name() {
				next = append(next, entry{provider: p, priority: priority, seq: e.seq})
				replaced = true
				continue
			}
			next = append(next, e)
		}
		if !replaced {
			if !assigned {
				r.nextSeq++
				seq = r.nextSeq
				assigned = true
			}
			next = append(next, entry{provider: p, priority: priority, seq: seq})
		}
		sortEntries(next)
		r.lists[c] = next
	}

	r.logger.Info("provider registered",
		zap.String("provider", p.Name()),
		zap.String("framework", string(p.Framework())),
		zap.Int("priority", priority),
		zap.Int("modalities", len(modalities)),
	)
	return nil
}

// Unregister removes the named provider from every capability and returns
// the number of entries removed.
func (r *Registry) Unregister(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for c, list := range r.lists {
		if idx := indexOf(list, name); idx >= 0 {
			r.lists[c] = removeAt(list, idx)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("provider unregistered", zap.String("provider", name), zap.Int("entries", removed))
	}
	return removed
}

// FindCandidates returns the providers for capability whose compatibility
// predicate accepts model, in priority order.
func (r *Registry) FindCandidates(capability types.Capability, model *types.ModelDescriptor) []Provider {
	snapshot := r.snapshot(capability)
	out := make([]Provider, 0, len(snapshot))
	for _, e := range snapshot {
		if e.provider.CanHandle(model) {
			out = append(out, e.provider)
		}
	}
	return out
}

// SelectBest applies the active strategy to FindCandidates. A false result
// is not an error on its own; callers decide how to surface it.
func (r *Registry) SelectBest(capability types.Capability, model *types.ModelDescriptor) (Provider, bool) {
	candidates := r.FindCandidates(capability, model)
	if len(candidates) == 0 {
		return nil, false
	}
	return r.Strategy().Select(capability, model, candidates)
}

// Resolve is SelectBest with a PROVIDER_NOT_FOUND error on a miss.
func (r *Registry) Resolve(capability types.Capability, model *types.ModelDescriptor) (Provider, error) {
	p, ok := r.SelectBest(capability, model)
	if !ok {
		modelID := ""
		if model != nil {
			modelID = model.ID
		}
		return nil, types.NewProviderNotFoundError(capability, modelID)
	}
	return p, nil
}

// SetStrategy replaces the selection strategy. A nil strategy restores the
// default.
func (r *Registry) SetStrategy(s Strategy) {
	if s == nil {
		s = DefaultStrategy{}
	}
	r.mu.Lock()
	r.strategy = s
	r.mu.Unlock()
	r.logger.Info("selection strategy changed", zap.String("strategy", fmt.Sprintf("%T", s)))
}

// Strategy returns the active selection strategy.
func (r *Registry) Strategy() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy
}

// Providers lists the entries registered for capability in priority order.
func (r *Registry) Providers(capability types.Capability) []ProviderInfo {
	snapshot := r.snapshot(capability)
	out := make([]ProviderInfo, 0, len(snapshot))
	for _, e := range snapshot {
		info := ProviderInfo{
			Name:       e.provider.Name(),
			Framework:  e.provider.Framework(),
			Capability: capability,
			Priority:   e.priority,
			Sequence:   e.seq,
		}
		if d, ok := e.provider.(DownloadStrategyProvider); ok {
			ds := d.DownloadStrategy()
			info.Download = &ds
		}
		out = append(out, info)
	}
	return out
}

// Capabilities returns every capability with at least one provider, in the
// order of types.AllCapabilities.
func (r *Registry) Capabilities() []types.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Capability, 0, len(r.lists))
	for _, c := range types.AllCapabilities() {
		if len(r.lists[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of entries registered for capability.
func (r *Registry) Len(capability types.Capability) int {
	return len(r.snapshot(capability))
}

// snapshot returns the current immutable list. The slice is never mutated
// after being published.
func (r *Registry) snapshot(capability types.Capability) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lists[capability]
}

func sortEntries(list []entry) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
}

func indexOf(list []entry, name string) int {
	for i, e := range list {
		if e.provider.Name() == name {
			return i
		}
	}
	return -1
}

func removeAt(list []entry, idx int) []entry {
	next := make([]entry, 0, len(list)-1)
	next = append(next, list[:idx]...)
	return append(next, list[idx+1:]...)
}
