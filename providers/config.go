// Package providers holds the built-in capability providers and their
// shared configuration.
package providers

import (
	"errors"
	"fmt"

	"github.com/BaSui01/edgeflow/types"
)

// EnergyVADConfig 能量 VAD 配置
type EnergyVADConfig struct {
	// Threshold is the RMS level, normalized to [0, 1], above which a frame
	// counts as speech.
	Threshold float64 `json:"threshold" yaml:"threshold" env:"THRESHOLD"`
	// CalibrationFrames enables noise-floor calibration over the first N
	// frames. Zero disables it.
	CalibrationFrames           int     `json:"calibration_frames,omitempty" yaml:"calibration_frames" env:"CALIBRATION_FRAMES"`
	CalibrationMultiplier       float64 `json:"calibration_multiplier,omitempty" yaml:"calibration_multiplier" env:"CALIBRATION_MULTIPLIER"`
	MinThreshold                float64 `json:"min_threshold,omitempty" yaml:"min_threshold" env:"MIN_THRESHOLD"`
	MaxThreshold                float64 `json:"max_threshold,omitempty" yaml:"max_threshold" env:"MAX_THRESHOLD"`
	PlaybackThresholdMultiplier float64 `json:"playback_threshold_multiplier,omitempty" yaml:"playback_threshold_multiplier" env:"PLAYBACK_THRESHOLD_MULTIPLIER"`
	// Priority is the registration priority of the built-in provider.
	Priority int `json:"priority,omitempty" yaml:"priority" env:"PRIORITY"`
}

// DefaultEnergyVADConfig 返回默认能量 VAD 配置
func DefaultEnergyVADConfig() EnergyVADConfig {
	return EnergyVADConfig{
		Threshold:                   0.015,
		CalibrationMultiplier:       2.5,
		MinThreshold:                0.003,
		MaxThreshold:                0.1,
		PlaybackThresholdMultiplier: 2.0,
	}
}

// Validate 校验配置
func (c EnergyVADConfig) Validate() error {
	var errs []error
	if c.MinThreshold <= 0 || c.MaxThreshold > 1 || c.MinThreshold > c.MaxThreshold {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 < min <= max <= 1"))
	}
	if c.Threshold < c.MinThreshold || c.Threshold > c.MaxThreshold {
		errs = append(errs, fmt.Errorf("threshold %.4f outside [%.4f, %.4f]", c.Threshold, c.MinThreshold, c.MaxThreshold))
	}
	if c.CalibrationFrames < 0 {
		errs = append(errs, fmt.Errorf("calibration_frames must not be negative"))
	}
	if c.CalibrationFrames > 0 && c.CalibrationMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("calibration_multiplier must be positive"))
	}
	if c.PlaybackThresholdMultiplier < 1 {
		errs = append(errs, fmt.Errorf("playback_threshold_multiplier must be at least 1"))
	}
	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidRequest, "invalid energy vad config").WithCause(errors.Join(errs...))
	}
	return nil
}
