package capability

import (
	"sort"
	"strings"

	"github.com/BaSui01/edgeflow/types"
)

// Strategy picks exactly one provider from a priority-ordered candidate list.
// candidates is never empty when called by the Registry.
type Strategy interface {
	Select(capability types.Capability, model *types.ModelDescriptor, candidates []Provider) (Provider, bool)
}

// =============================================================================
// Default
// =============================================================================

// DefaultStrategy prefers, in order: the model's preferred framework, the
// first candidate whose framework the model lists as compatible, then the
// first candidate.
type DefaultStrategy struct{}

// Select implements Strategy.
func (DefaultStrategy) Select(_ types.Capability, model *types.ModelDescriptor, candidates []Provider) (Provider, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if model != nil && model.PreferredFramework != "" {
		if p, ok := firstWithFramework(candidates, model.PreferredFramework); ok {
			return p, true
		}
	}
	if model != nil && len(model.CompatibleFrameworks) > 0 {
		for _, p := range candidates {
			for _, f := range model.CompatibleFrameworks {
				if p.Framework() == f {
					return p, true
				}
			}
		}
	}
	return candidates[0], true
}

// =============================================================================
// Pattern
// =============================================================================

// PatternRule maps a model-id substring to a framework.
type PatternRule struct {
	Pattern   string          `json:"pattern" yaml:"pattern"`
	Framework types.Framework `json:"framework" yaml:"framework"`
}

// PatternStrategy matches case-insensitive substrings of the model id against
// a per-capability table and prefers the matched framework. Longer patterns
// win. Without a match it behaves like DefaultStrategy.
type PatternStrategy struct {
	rules    map[types.Capability][]PatternRule
	fallback DefaultStrategy
}

// NewPatternStrategy copies table and orders each capability's rules
// longest pattern first.
func NewPatternStrategy(table map[types.Capability][]PatternRule) *PatternStrategy {
	rules := make(map[types.Capability][]PatternRule, len(table))
	for c, list := range table {
		sorted := make([]PatternRule, 0, len(list))
		for _, rule := range list {
			if rule.Pattern == "" {
				continue
			}
			sorted = append(sorted, PatternRule{
				Pattern:   strings.ToLower(rule.Pattern),
				Framework: rule.Framework,
			})
		}
		sort.SliceStable(sorted, func(i, j int) bool {
			if len(sorted[i].Pattern) != len(sorted[j].Pattern) {
				return len(sorted[i].Pattern) > len(sorted[j].Pattern)
			}
			return sorted[i].Pattern < sorted[j].Pattern
		})
		rules[c] = sorted
	}
	return &PatternStrategy{rules: rules}
}

// DefaultPatternTable is the built-in model-id routing table.
func DefaultPatternTable() map[types.Capability][]PatternRule {
	return map[types.Capability][]PatternRule{
		types.CapabilityTextGeneration: {
			{Pattern: "gguf", Framework: types.FrameworkLlamaCpp},
			{Pattern: "llama", Framework: types.FrameworkLlamaCpp},
			{Pattern: "qwen", Framework: types.FrameworkLlamaCpp},
			{Pattern: "mlx", Framework: types.FrameworkMLX},
		},
		types.CapabilitySTT: {
			{Pattern: "whisperkit", Framework: types.FrameworkWhisperKit},
			{Pattern: "whisper", Framework: types.FrameworkWhisperCpp},
			{Pattern: "zipformer", Framework: types.FrameworkSherpa},
			{Pattern: "sherpa", Framework: types.FrameworkSherpa},
		},
		types.CapabilityTTS: {
			{Pattern: "piper", Framework: types.FrameworkPiper},
			{Pattern: "kokoro", Framework: types.FrameworkONNX},
			{Pattern: "vits", Framework: types.FrameworkSherpa},
		},
		types.CapabilityVAD: {
			{Pattern: "silero", Framework: types.FrameworkONNX},
		},
	}
}

// Match returns the framework of the first rule matching modelID.
func (s *PatternStrategy) Match(capability types.Capability, modelID string) (types.Framework, bool) {
	if s == nil || modelID == "" {
		return "", false
	}
	id := strings.ToLower(modelID)
	for _, rule := range s.rules[capability] {
		if strings.Contains(id, rule.Pattern) {
			return rule.Framework, true
		}
	}
	return "", false
}

// Rules returns the ordered rules for capability.
func (s *PatternStrategy) Rules(capability types.Capability) []PatternRule {
	return append([]PatternRule(nil), s.rules[capability]...)
}

// Select implements Strategy.
func (s *PatternStrategy) Select(capability types.Capability, model *types.ModelDescriptor, candidates []Provider) (Provider, bool) {
	if model != nil {
		if f, ok := s.Match(capability, model.ID); ok {
			if p, ok := firstWithFramework(candidates, f); ok {
				return p, true
			}
		}
	}
	return s.fallback.Select(capability, model, candidates)
}

// =============================================================================
// Explicit framework
// =============================================================================

// ExplicitFrameworkStrategy always prefers one framework and otherwise
// returns the first candidate.
type ExplicitFrameworkStrategy struct {
	Framework types.Framework
}

// Select implements Strategy.
func (s ExplicitFrameworkStrategy) Select(_ types.Capability, _ *types.ModelDescriptor, candidates []Provider) (Provider, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if p, ok := firstWithFramework(candidates, s.Framework); ok {
		return p, true
	}
	return candidates[0], true
}

func firstWithFramework(candidates []Provider, f types.Framework) (Provider, bool) {
	for _, p := range candidates {
		if p.Framework() == f {
			return p, true
		}
	}
	return nil, false
}
