package voice

import (
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/edgeflow/types"
)

// Config tunes segmentation, cooldown and failure handling.
type Config struct {
	Cooldown               time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	SpeechStartFrames      int           `yaml:"speech_start_frames" env:"SPEECH_START_FRAMES"`
	BargeInStartFrames     int           `yaml:"barge_in_start_frames" env:"BARGE_IN_START_FRAMES"`
	EndSilence             time.Duration `yaml:"end_silence" env:"END_SILENCE"`
	MinSpeechDuration      time.Duration `yaml:"min_speech_duration" env:"MIN_SPEECH_DURATION"`
	MaxSpeechDuration      time.Duration `yaml:"max_speech_duration" env:"MAX_SPEECH_DURATION"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" env:"MAX_CONSECUTIVE_FAILURES"`
	EventBuffer            int           `yaml:"event_buffer" env:"EVENT_BUFFER"`
	// SampleRate is assumed for frames that carry no rate.
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:               400 * time.Millisecond,
		SpeechStartFrames:      3,
		BargeInStartFrames:     5,
		EndSilence:             600 * time.Millisecond,
		MinSpeechDuration:      250 * time.Millisecond,
		MaxSpeechDuration:      30 * time.Second,
		MaxConsecutiveFailures: 3,
		EventBuffer:            64,
		SampleRate:             16000,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must not be negative"))
	}
	if c.SpeechStartFrames < 1 {
		errs = append(errs, fmt.Errorf("speech_start_frames must be at least 1"))
	}
	if c.BargeInStartFrames < 1 {
		errs = append(errs, fmt.Errorf("barge_in_start_frames must be at least 1"))
	}
	if c.EndSilence <= 0 {
		errs = append(errs, fmt.Errorf("end_silence must be positive"))
	}
	if c.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("min_speech_duration must not be negative"))
	}
	if c.MaxSpeechDuration <= c.MinSpeechDuration {
		errs = append(errs, fmt.Errorf("max_speech_duration must exceed min_speech_duration"))
	}
	if c.MaxConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("max_consecutive_failures must not be negative"))
	}
	if c.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("event_buffer must not be negative"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive"))
	}
	if len(errs) > 0 {
		return types.NewError(types.ErrInvalidRequest, "invalid pipeline config").WithCause(errors.Join(errs...))
	}
	return nil
}
