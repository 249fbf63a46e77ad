package energyvad

import (
	"math"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow/providers"
	"github.com/BaSui01/edgeflow/types"
	"github.com/BaSui01/edgeflow/voice"
)

var (
	_ voice.VAD           = (*VAD)(nil)
	_ voice.PlaybackAware = (*VAD)(nil)
)

// VAD classifies frames by RMS energy.
type VAD struct {
	cfg    providers.EnergyVADConfig
	logger *zap.Logger

	mu          sync.Mutex
	threshold   float64
	calibration []float64
	calibrating bool
	playback    bool
	lastEnergy  float64
}

// New creates an energy VAD. Calibration starts immediately when
// cfg.CalibrationFrames is positive.
func New(cfg providers.EnergyVADConfig, logger *zap.Logger) *VAD {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &VAD{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "energy_vad")),
		threshold: clamp(cfg.Threshold, cfg.MinThreshold, cfg.MaxThreshold),
	}
	if cfg.CalibrationFrames > 0 {
		v.calibrating = true
	}
	return v
}

// ProcessFrame reports whether the frame's energy exceeds the threshold.
// Frames consumed by calibration are reported as silence.
func (v *VAD) ProcessFrame(f voice.AudioFrame) (bool, error) {
	if len(f.Samples) == 0 {
		return false, types.NewError(types.ErrInvalidRequest, "empty audio frame")
	}
	energy := RMS(f.Samples)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastEnergy = energy

	if v.calibrating {
		v.calibration = append(v.calibration, energy)
		if len(v.calibration) >= v.cfg.CalibrationFrames {
			v.finishCalibration()
		}
		return false, nil
	}
	return energy > v.effectiveThreshold(), nil
}

// Reset clears per-utterance state. Calibration results are kept.
func (v *VAD) Reset() {
	v.mu.Lock()
	v.lastEnergy = 0
	v.mu.Unlock()
}

// SetPlaybackActive raises the threshold while synthesized audio plays.
func (v *VAD) SetPlaybackActive(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playback == active {
		return
	}
	v.playback = active
	v.logger.Debug("playback state changed",
		zap.Bool("active", active),
		zap.Float64("threshold", v.effectiveThreshold()))
}

// Recalibrate discards the current noise floor and calibrates over the
// next CalibrationFrames frames.
func (v *VAD) Recalibrate() {
	if v.cfg.CalibrationFrames <= 0 {
		return
	}
	v.mu.Lock()
	v.calibration = v.calibration[:0]
	v.calibrating = true
	v.mu.Unlock()
}

// Calibrating reports whether calibration is in progress.
func (v *VAD) Calibrating() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calibrating
}

// Threshold returns the threshold currently applied.
func (v *VAD) Threshold() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.effectiveThreshold()
}

// SetThreshold replaces the base threshold, clamped to the configured range.
func (v *VAD) SetThreshold(t float64) {
	v.mu.Lock()
	v.threshold = clamp(t, v.cfg.MinThreshold, v.cfg.MaxThreshold)
	v.mu.Unlock()
}

// LastEnergy returns the RMS of the last processed frame.
func (v *VAD) LastEnergy() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastEnergy
}

func (v *VAD) effectiveThreshold() float64 {
	if v.playback {
		return math.Min(v.threshold*v.cfg.PlaybackThresholdMultiplier, v.cfg.MaxThreshold)
	}
	return v.threshold
}

// finishCalibration sets the threshold from the 90th percentile of the
// calibration energies. Callers hold mu.
func (v *VAD) finishCalibration() {
	sorted := slices.Clone(v.calibration)
	slices.Sort(sorted)
	ambient := sorted[int(float64(len(sorted)-1)*0.9)]

	v.threshold = clamp(ambient*v.cfg.CalibrationMultiplier, v.cfg.MinThreshold, v.cfg.MaxThreshold)
	v.calibrating = false
	v.calibration = v.calibration[:0]
	v.logger.Info("noise floor calibrated",
		zap.Float64("ambient", ambient),
		zap.Float64("threshold", v.threshold))
}

// RMS returns the root mean square of samples normalized to [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		x := float64(s) / 32768
		sum += x * x
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(x, hi))
}
