package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(Config{MaxWorkers: 3, QueueSize: 16})
	defer p.Close()

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), 3)
	stats := p.Stats()
	assert.LessOrEqual(t, stats.PeakActive, 3)
	assert.Equal(t, int64(12), stats.Completed)
}

func TestWorkerPool_ErrorsAndPanics(t *testing.T) {
	var handled atomic.Int32
	p := NewWorkerPool(Config{MaxWorkers: 1, QueueSize: 4, PanicHandler: func(any) { handled.Add(1) }})
	defer p.Close()

	boom := errors.New("boom")
	err := p.SubmitWait(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = p.SubmitWait(context.Background(), func(context.Context) error { panic("kaput") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaput", pe.Value)
	assert.Equal(t, int32(1), handled.Load())

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Failed)
}

func TestWorkerPool_CancelledContext(t *testing.T) {
	p := NewWorkerPool(Config{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := p.SubmitWait(ctx, func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestWorkerPool_Closed(t *testing.T) {
	p := NewWorkerPool(DefaultConfig())
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), func(context.Context) error { return nil }), ErrPoolClosed)
}

func TestWorkerPool_SubmitFull(t *testing.T) {
	p := NewWorkerPool(Config{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))
	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) error { return nil }), ErrPoolFull)
	close(block)
}

func TestSampleBufferPool(t *testing.T) {
	p := NewSampleBufferPool(320)

	a := p.Get()
	*a = append(*a, 1, 2, 3)
	b := p.Get()
	assert.Equal(t, int64(2), p.Outstanding())

	p.Put(a)
	p.Put(b)
	p.Put(nil)
	assert.Equal(t, int64(0), p.Outstanding())

	c := p.Get()
	assert.Empty(t, *c)
	assert.GreaterOrEqual(t, cap(*c), 0)
	p.Put(c)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Gets)
	assert.Equal(t, int64(3), stats.Puts)
}
