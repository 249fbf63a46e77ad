package capability

import (
	"context"

	"github.com/BaSui01/edgeflow/types"
)

// Provider is a backend-specific implementation of one or more capabilities.
// Services returned by CreateService and LoadModel are opaque to the runtime.
type Provider interface {
	// Name identifies the provider. Re-registering the same name under the
	// same capability replaces the prior entry.
	Name() string
	Framework() types.Framework
	SupportedModalities() []types.Capability
	// CanHandle is the compatibility predicate. model may be nil when a
	// component is requested without a model (e.g. the energy VAD).
	CanHandle(model *types.ModelDescriptor) bool
	CreateService(ctx context.Context, capability types.Capability) (any, error)
	LoadModel(ctx context.Context, model *types.ModelDescriptor, capability types.Capability) (any, error)
	EstimateMemoryUsage(model *types.ModelDescriptor) int64
}

// RegistrationHook is implemented by providers that need a callback when
// they are registered. A hook error aborts the registration.
type RegistrationHook interface {
	OnRegistration() error
}

// DownloadStrategy describes non-standard model packaging. It is consumed by
// the external download manager, never by the runtime itself.
type DownloadStrategy struct {
	Name          string   `json:"name"`
	ArchiveFormat string   `json:"archive_format,omitempty"`
	RequiredFiles []string `json:"required_files,omitempty"`
}

// DownloadStrategyProvider is implemented by providers with custom packaging.
type DownloadStrategyProvider interface {
	DownloadStrategy() DownloadStrategy
}

// ProviderInfo is a read-only view of a registry entry.
type ProviderInfo struct {
	Name       string            `json:"name"`
	Framework  types.Framework   `json:"framework"`
	Capability types.Capability  `json:"capability"`
	Priority   int               `json:"priority"`
	Sequence   uint64            `json:"sequence"`
	Download   *DownloadStrategy `json:"download,omitempty"`
}
