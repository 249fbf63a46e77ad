package voice

import (
	"context"
	"time"
)

// AudioFrame is one block of mono 16-bit PCM input.
type AudioFrame struct {
	Timestamp  time.Time
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return samplesDuration(len(f.Samples), f.SampleRate)
}

// AudioChunk is a block of synthesized audio.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Final      bool
}

// Transcription is a speech-to-text result.
type Transcription struct {
	Text       string
	Confidence float64
	Language   string
}

// VAD classifies frames as speech or silence.
type VAD interface {
	ProcessFrame(frame AudioFrame) (bool, error)
	Reset()
}

// PlaybackAware is implemented by detectors that adjust their threshold
// while synthesized audio is playing.
type PlaybackAware interface {
	SetPlaybackActive(active bool)
}

// Transcriber turns an utterance into text. samples must not be retained
// after Transcribe returns.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (Transcription, error)
}

// Generator produces a response, calling emit for every token in order.
// It returns the complete text.
type Generator interface {
	Generate(ctx context.Context, prompt string, emit func(token string)) (string, error)
}

// Synthesizer streams audio for text. A non-nil error from emit aborts
// synthesis and is returned.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, emit func(chunk AudioChunk) error) error
}

// AudioSink plays synthesized audio. Stop interrupts playback in progress.
type AudioSink interface {
	Play(ctx context.Context, chunk AudioChunk) error
	Stop() error
}

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
