package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/edgeflow/testutil/fixtures"
)

// --- VAD ---

// amplitudeVAD treats any frame with a sample above threshold as speech.
type amplitudeVAD struct {
	threshold int16
	err       error

	calls    atomic.Int64
	resets   atomic.Int64
	mu       sync.Mutex
	playback []bool
}

func newVAD() *amplitudeVAD { return &amplitudeVAD{threshold: 1000} }

func (v *amplitudeVAD) ProcessFrame(f AudioFrame) (bool, error) {
	v.calls.Add(1)
	if v.err != nil {
		return false, v.err
	}
	for _, s := range f.Samples {
		if s > v.threshold || s < -v.threshold {
			return true, nil
		}
	}
	return false, nil
}

func (v *amplitudeVAD) Reset() { v.resets.Add(1) }

func (v *amplitudeVAD) SetPlaybackActive(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playback = append(v.playback, active)
}

func (v *amplitudeVAD) playbackCalls() []bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]bool(nil), v.playback...)
}

// --- STT ---

type mockSTT struct {
	text  string
	delay time.Duration

	mu      sync.Mutex
	errs    []error
	lengths []int
}

func (m *mockSTT) Transcribe(ctx context.Context, samples []int16, _ int) (Transcription, error) {
	m.mu.Lock()
	m.lengths = append(m.lengths, len(samples))
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	m.mu.Unlock()

	if err := sleep(ctx, m.delay); err != nil {
		return Transcription{}, err
	}
	if err != nil {
		return Transcription{}, err
	}
	return Transcription{Text: m.text, Confidence: 0.9}, nil
}

// failNext makes the next n calls fail.
func (m *mockSTT) failNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.errs = append(m.errs, errors.New("transcriber offline"))
	}
}

func (m *mockSTT) calls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.lengths...)
}

// --- LLM ---

type mockLLM struct {
	tokens []string
	delay  time.Duration
	err    error

	calls     atomic.Int64
	cancelled atomic.Int64
}

func (m *mockLLM) Generate(ctx context.Context, _ string, emit func(string)) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	for _, tok := range m.tokens {
		if err := sleep(ctx, m.delay); err != nil {
			m.cancelled.Add(1)
			return "", err
		}
		emit(tok)
	}
	return strings.Join(m.tokens, ""), nil
}

// --- TTS ---

type mockTTS struct {
	chunks int
	delay  time.Duration

	calls     atomic.Int64
	cancelled atomic.Int64
}

func (m *mockTTS) Synthesize(ctx context.Context, _ string, emit func(AudioChunk) error) error {
	m.calls.Add(1)
	for i := 0; i < m.chunks; i++ {
		if err := sleep(ctx, m.delay); err != nil {
			m.cancelled.Add(1)
			return err
		}
		samples := make([]int16, fixtures.SamplesPerFrame)
		if err := emit(AudioChunk{Samples: samples, Final: i == m.chunks-1}); err != nil {
			return err
		}
	}
	return nil
}

// --- Sink ---

type mockSink struct {
	played atomic.Int64
	stops  atomic.Int64
}

func (s *mockSink) Play(ctx context.Context, _ AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.played.Add(1)
	return nil
}

func (s *mockSink) Stop() error {
	s.stops.Add(1)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
