package component

import (
	"reflect"
	"time"

	"github.com/BaSui01/edgeflow/types"
)

// ResourceWeight classifies how expensive a component is to bring up.
type ResourceWeight string

const (
	// WeightAuto infers the weight from the capability.
	WeightAuto        ResourceWeight = "auto"
	WeightLightweight ResourceWeight = "lightweight"
	WeightHeavy       ResourceWeight = "heavy"
)

// Descriptor requests one component.
type Descriptor struct {
	Capability types.Capability       `json:"capability" yaml:"capability"`
	Model      *types.ModelDescriptor `json:"model,omitempty" yaml:"model,omitempty"`
	Params     map[string]any         `json:"params,omitempty" yaml:"params,omitempty"`
	Weight     ResourceWeight         `json:"weight,omitempty" yaml:"weight,omitempty"`
	Priority   int                    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Heavy reports whether the component must be initialized alone.
// Text generation and vision are heavy under WeightAuto.
func (d Descriptor) Heavy() bool {
	switch d.Weight {
	case WeightHeavy:
		return true
	case WeightLightweight:
		return false
	}
	return d.Capability == types.CapabilityTextGeneration || d.Capability == types.CapabilityVision
}

// ModelID returns the model ID or "".
func (d Descriptor) ModelID() string {
	if d.Model == nil {
		return ""
	}
	return d.Model.ID
}

// sameConfig reports whether d and other request the same component.
func (d Descriptor) sameConfig(other Descriptor) bool {
	if d.ModelID() != other.ModelID() {
		return false
	}
	if len(d.Params) == 0 && len(other.Params) == 0 {
		return true
	}
	return reflect.DeepEqual(d.Params, other.Params)
}

// Result is the outcome of initializing one component.
type Result struct {
	Capability types.Capability `json:"capability"`
	State      State            `json:"state"`
	Provider   string           `json:"provider,omitempty"`
	Framework  types.Framework  `json:"framework,omitempty"`
	ModelID    string           `json:"model_id,omitempty"`
	Duration   time.Duration    `json:"duration"`
	Cached     bool             `json:"cached,omitempty"`
	Err        error            `json:"-"`
}

// Status is a point-in-time view of one component.
type Status struct {
	Capability types.Capability `json:"capability"`
	State      State            `json:"state"`
	Provider   string           `json:"provider,omitempty"`
	Framework  types.Framework  `json:"framework,omitempty"`
	ModelID    string           `json:"model_id,omitempty"`
	Heavy      bool             `json:"heavy"`
	Error      string           `json:"error,omitempty"`
	ReadyAt    time.Time        `json:"ready_at,omitzero"`
}
