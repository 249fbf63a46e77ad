// Package energyvad provides the built-in RMS energy voice activity
// detector as a capability provider.
package energyvad

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/capability"
	"github.com/BaSui01/edgeflow/providers"
	"github.com/BaSui01/edgeflow/types"
)

// Name is the registry name of the provider.
const Name = "energy-vad"

var (
	_ capability.Provider         = (*Provider)(nil)
	_ capability.RegistrationHook = (*Provider)(nil)
)

// Provider creates energy VAD instances. It needs no model weights.
type Provider struct {
	cfg    providers.EnergyVADConfig
	logger *zap.Logger
}

// NewProvider creates the provider.
func NewProvider(cfg providers.EnergyVADConfig, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Framework() types.Framework { return types.FrameworkEnergy }

func (p *Provider) SupportedModalities() []types.Capability {
	return []types.Capability{types.CapabilityVAD}
}

// CanHandle accepts requests without a model and models that declare the
// energy framework.
func (p *Provider) CanHandle(model *types.ModelDescriptor) bool {
	return model == nil || model.SupportsFramework(types.FrameworkEnergy)
}

func (p *Provider) CreateService(ctx context.Context, capability types.Capability) (any, error) {
	if capability != types.CapabilityVAD {
		return nil, types.Errorf(types.ErrInvalidRequest, "energy vad cannot serve %s", capability).WithProvider(Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return New(p.cfg, p.logger), nil
}

// LoadModel ignores the model; energy detection has no weights.
func (p *Provider) LoadModel(ctx context.Context, _ *types.ModelDescriptor, capability types.Capability) (any, error) {
	return p.CreateService(ctx, capability)
}

func (p *Provider) EstimateMemoryUsage(*types.ModelDescriptor) int64 { return 0 }

// OnRegistration rejects an invalid configuration.
func (p *Provider) OnRegistration() error {
	if err := p.cfg.Validate(); err != nil {
		return err
	}
	p.logger.Debug("energy vad registered", zap.Float64("threshold", p.cfg.Threshold))
	return nil
}
