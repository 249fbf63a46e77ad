// PCM 音频样例生成，用于 VAD 与语音管线测试。
package fixtures

import (
	"math"
	"time"
)

// SampleRate is the rate used by every audio fixture.
const SampleRate = 16000

// FrameDuration is the length of one fixture frame.
const FrameDuration = 20 * time.Millisecond

// SamplesPerFrame is the number of samples in one fixture frame.
const SamplesPerFrame = SampleRate * int(FrameDuration/time.Millisecond) / 1000

// SpeechAmplitude is loud enough for the default energy threshold.
const SpeechAmplitude = 8000

// Segment is a run of frames with a fixed amplitude.
type Segment struct {
	Duration  time.Duration
	Amplitude int16
}

// Silence returns a silent segment.
func Silence(d time.Duration) Segment { return Segment{Duration: d} }

// Speech returns a loud sine segment.
func Speech(d time.Duration) Segment { return Segment{Duration: d, Amplitude: SpeechAmplitude} }

// Frames renders segments into consecutive frames of SamplesPerFrame samples.
func Frames(segments ...Segment) [][]int16 {
	var out [][]int16
	phase := 0
	for _, seg := range segments {
		n := int(seg.Duration / FrameDuration)
		for i := 0; i < n; i++ {
			out = append(out, frame(seg.Amplitude, &phase))
		}
	}
	return out
}

// FrameCount returns how many frames cover d.
func FrameCount(d time.Duration) int { return int(d / FrameDuration) }

func frame(amplitude int16, phase *int) []int16 {
	samples := make([]int16, SamplesPerFrame)
	if amplitude == 0 {
		return samples
	}
	for i := range samples {
		// 440 Hz tone
		v := math.Sin(2 * math.Pi * 440 * float64(*phase) / SampleRate)
		samples[i] = int16(v * float64(amplitude))
		*phase++
	}
	return samples
}
