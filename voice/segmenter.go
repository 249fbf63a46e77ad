package voice

import (
	"time"

	"github.com/BaSui01/edgeflow/internal/pool"
)

// SegmentEvent is what a frame did to the current utterance.
type SegmentEvent int

const (
	SegmentNone SegmentEvent = iota
	SegmentStarted
	SegmentEnded
)

// Segment is the outcome of feeding one frame to a Segmenter.
type Segment struct {
	Event SegmentEvent
	// Samples holds the utterance when Event is SegmentEnded and the
	// utterance was kept. The caller returns it with Segmenter.Release.
	Samples *[]int16
	// Voiced is the utterance length without trailing silence.
	Voiced    time.Duration
	Discarded bool
	Cut       bool
}

// Segmenter debounces VAD decisions into utterances. It is not safe for
// concurrent use.
type Segmenter struct {
	endSilence time.Duration
	minSpeech  time.Duration
	maxSpeech  time.Duration
	buffers    *pool.SampleBufferPool

	buf      *[]int16
	speaking bool
	run      int
	total    time.Duration
	silence  time.Duration
}

// NewSegmenter creates a segmenter drawing utterance buffers from buffers.
func NewSegmenter(cfg Config, buffers *pool.SampleBufferPool) *Segmenter {
	if buffers == nil {
		buffers = pool.NewSampleBufferPool(cfg.SampleRate)
	}
	return &Segmenter{
		endSilence: cfg.EndSilence,
		minSpeech:  cfg.MinSpeechDuration,
		maxSpeech:  cfg.MaxSpeechDuration,
		buffers:    buffers,
	}
}

// Speaking reports whether an utterance is open.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Process feeds one classified frame. Speech opens after startFrames
// consecutive speech frames, and those frames lead the utterance.
func (s *Segmenter) Process(samples []int16, sampleRate int, isSpeech bool, startFrames int) Segment {
	d := samplesDuration(len(samples), sampleRate)

	if !s.speaking {
		if !isSpeech {
			s.drop()
			return Segment{}
		}
		if s.buf == nil {
			s.buf = s.buffers.Get()
		}
		*s.buf = append(*s.buf, samples...)
		s.run++
		s.total += d
		if s.run >= startFrames {
			s.speaking = true
			s.silence = 0
			return Segment{Event: SegmentStarted}
		}
		return Segment{}
	}

	*s.buf = append(*s.buf, samples...)
	s.total += d
	if isSpeech {
		s.silence = 0
	} else {
		s.silence += d
	}

	switch {
	case s.silence >= s.endSilence:
		return s.finish(false)
	case s.total >= s.maxSpeech:
		return s.finish(true)
	}
	return Segment{}
}

// Flush closes an open utterance as if silence had ended it.
func (s *Segmenter) Flush() Segment {
	if !s.speaking {
		s.drop()
		return Segment{}
	}
	return s.finish(false)
}

// Reset discards any partial utterance.
func (s *Segmenter) Reset() { s.drop() }

// Release returns an utterance buffer obtained from a Segment.
func (s *Segmenter) Release(buf *[]int16) { s.buffers.Put(buf) }

func (s *Segmenter) finish(cut bool) Segment {
	voiced := s.total - s.silence
	out := s.buf
	s.buf = nil
	s.clear()

	if !cut && voiced < s.minSpeech {
		s.buffers.Put(out)
		return Segment{Event: SegmentEnded, Voiced: voiced, Discarded: true}
	}
	return Segment{Event: SegmentEnded, Samples: out, Voiced: voiced, Cut: cut}
}

func (s *Segmenter) drop() {
	if s.buf != nil {
		s.buffers.Put(s.buf)
		s.buf = nil
	}
	s.clear()
}

func (s *Segmenter) clear() {
	s.speaking = false
	s.run = 0
	s.total = 0
	s.silence = 0
}
