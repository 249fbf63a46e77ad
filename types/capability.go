package types

import (
	"slices"
	"strings"
)

// Capability is a class of AI function. A loaded model occupies one
// capability slot, so the same type names a modality.
type Capability string

const (
	CapabilityTextGeneration     Capability = "text-generation"
	CapabilitySTT                Capability = "speech-to-text"
	CapabilityTTS                Capability = "text-to-speech"
	CapabilityVAD                Capability = "voice-activity-detection"
	CapabilityVision             Capability = "vision"
	CapabilitySpeakerDiarization Capability = "speaker-diarization"
	CapabilityWakeWord           Capability = "wake-word"
)

// AllCapabilities lists every known capability in a stable order.
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityTextGeneration,
		CapabilitySTT,
		CapabilityTTS,
		CapabilityVAD,
		CapabilityVision,
		CapabilitySpeakerDiarization,
		CapabilityWakeWord,
	}
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return slices.Contains(AllCapabilities(), c)
}

// String implements fmt.Stringer.
func (c Capability) String() string { return string(c) }

// Framework identifies an inference backend.
type Framework string

const (
	FrameworkLlamaCpp   Framework = "llamacpp"
	FrameworkONNX       Framework = "onnx"
	FrameworkWhisperCpp Framework = "whispercpp"
	FrameworkWhisperKit Framework = "whisperkit"
	FrameworkSherpa     Framework = "sherpa"
	FrameworkPiper      Framework = "piper"
	FrameworkCoreML     Framework = "coreml"
	FrameworkMLX        Framework = "mlx"
	FrameworkEnergy     Framework = "energy"
	FrameworkSystem     Framework = "system"
	FrameworkUnknown    Framework = "unknown"
)

// ModelFormat is the on-disk packaging of a model.
type ModelFormat string

const (
	FormatGGUF    ModelFormat = "gguf"
	FormatONNX    ModelFormat = "onnx"
	FormatORT     ModelFormat = "ort"
	FormatBin     ModelFormat = "bin"
	FormatCoreML  ModelFormat = "coreml"
	FormatMLModel ModelFormat = "mlmodel"
	FormatUnknown ModelFormat = "unknown"
)

// ModelDescriptor describes a model supplied by the external catalog.
// The runtime treats it as read-only.
type ModelDescriptor struct {
	ID                   string      `json:"id" yaml:"id"`
	Name                 string      `json:"name,omitempty" yaml:"name"`
	Version              string      `json:"version,omitempty" yaml:"version"`
	Capability           Capability  `json:"capability,omitempty" yaml:"capability"`
	Framework            Framework   `json:"framework,omitempty" yaml:"framework"`
	Format               ModelFormat `json:"format,omitempty" yaml:"format"`
	CompatibleFrameworks []Framework `json:"compatible_frameworks,omitempty" yaml:"compatible_frameworks"`
	PreferredFramework   Framework   `json:"preferred_framework,omitempty" yaml:"preferred_framework"`
	MemoryRequired       int64       `json:"memory_required,omitempty" yaml:"memory_required"`
}

// SupportsFramework reports whether the model declares f as its own
// framework or lists it as compatible.
func (m *ModelDescriptor) SupportsFramework(f Framework) bool {
	if m == nil {
		return false
	}
	return m.Framework == f || slices.Contains(m.CompatibleFrameworks, f)
}

// ParseModelID splits a versioned id of the form "name@version".
// An id without "@" has an empty version.
func ParseModelID(id string) (base, version string) {
	base, version, found := strings.Cut(id, "@")
	if !found {
		return id, ""
	}
	return base, version
}
