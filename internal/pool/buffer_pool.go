package pool

import (
	"sync"
	"sync/atomic"
)

// SampleBufferPool hands out reusable PCM sample buffers. Outstanding counts
// buffers that were taken and not yet returned, which lets callers verify
// that cancelled work released what it allocated.
type SampleBufferPool struct {
	pool     sync.Pool
	initSize int

	gets atomic.Int64
	puts atomic.Int64
	news atomic.Int64
}

// NewSampleBufferPool creates a pool whose fresh buffers have initSize capacity.
func NewSampleBufferPool(initSize int) *SampleBufferPool {
	p := &SampleBufferPool{initSize: initSize}
	p.pool.New = func() any {
		p.news.Add(1)
		buf := make([]int16, 0, initSize)
		return &buf
	}
	return p
}

// Get returns an empty buffer.
func (p *SampleBufferPool) Get() *[]int16 {
	p.gets.Add(1)
	buf := p.pool.Get().(*[]int16)
	*buf = (*buf)[:0]
	return buf
}

// Put returns a buffer to the pool. Nil is ignored.
func (p *SampleBufferPool) Put(buf *[]int16) {
	if buf == nil {
		return
	}
	p.puts.Add(1)
	*buf = (*buf)[:0]
	p.pool.Put(buf)
}

// Outstanding returns the number of buffers currently checked out.
func (p *SampleBufferPool) Outstanding() int64 {
	return p.gets.Load() - p.puts.Load()
}

// Stats returns pool statistics.
func (p *SampleBufferPool) Stats() BufferStats {
	return BufferStats{
		Gets: p.gets.Load(),
		Puts: p.puts.Load(),
		News: p.news.Load(),
	}
}

// BufferStats contains buffer pool statistics.
type BufferStats struct {
	Gets int64 `json:"gets"`
	Puts int64 `json:"puts"`
	News int64 `json:"news"`
}

// HitRate returns the fraction of Gets served without allocating.
func (s BufferStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}
