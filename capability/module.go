package capability

import (
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/types"
)

// ModuleInfo describes a backend module: a bundle of providers shipped
// together (e.g. a llama.cpp build serving text-generation and vision).
type ModuleInfo struct {
	ID           string             `json:"id" yaml:"id"`
	Name         string             `json:"name" yaml:"name"`
	Version      string             `json:"version" yaml:"version"`
	Description  string             `json:"description,omitempty" yaml:"description"`
	Capabilities []types.Capability `json:"capabilities" yaml:"capabilities"`
}

// ModuleRegistry is a thread-safe catalog of backend modules.
type ModuleRegistry struct {
	modules map[string]ModuleInfo
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewModuleRegistry creates an empty module registry.
func NewModuleRegistry(logger *zap.Logger) *ModuleRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleRegistry{
		modules: make(map[string]ModuleInfo),
		logger:  logger.With(zap.String("component", "module_registry")),
	}
}

// Register adds a module. Duplicate IDs are rejected.
func (r *ModuleRegistry) Register(info ModuleInfo) error {
	if info.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "module id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[info.ID]; exists {
		return types.Errorf(types.ErrModuleAlreadyRegistered, "module %q already registered", info.ID)
	}
	info.Capabilities = slices.Clone(info.Capabilities)
	r.modules[info.ID] = info

	r.logger.Info("module registered",
		zap.String("id", info.ID),
		zap.String("version", info.Version),
		zap.Int("capabilities", len(info.Capabilities)))
	return nil
}

// Unregister removes a module by ID.
func (r *ModuleRegistry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[id]; !exists {
		return types.Errorf(types.ErrModuleNotFound, "module %q not found", id)
	}
	delete(r.modules, id)
	r.logger.Info("module unregistered", zap.String("id", id))
	return nil
}

// Get returns a module by ID.
func (r *ModuleRegistry) Get(id string) (ModuleInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.modules[id]
	if !ok {
		return ModuleInfo{}, types.Errorf(types.ErrModuleNotFound, "module %q not found", id)
	}
	return info, nil
}

// List returns all modules sorted by ID.
func (r *ModuleRegistry) List() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModuleInfo, 0, len(r.modules))
	for _, info := range r.modules {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForCapability returns the modules declaring capability, sorted by ID.
func (r *ModuleRegistry) ForCapability(capability types.Capability) []ModuleInfo {
	all := r.List()
	out := all[:0]
	for _, info := range all {
		if slices.Contains(info.Capabilities, capability) {
			out = append(out, info)
		}
	}
	return out
}
