// Package capture bridges the hardware capture callback into the pipeline.
//
// The callback runs on a driver thread that must never block. [Bridge.Push]
// copies the raw block, slices it into fixed-size frames and appends them to
// an unbounded queue under a short mutex; the pipeline goroutine pulls frames
// with [Bridge.Next]. While the bridge is not running, pushed blocks are
// dropped with a warning instead of waiting for a consumer.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/pkg/audio"
)

// ErrStopped is returned by [Bridge.Next] once the bridge is stopped and every
// queued frame has been delivered.
var ErrStopped = errors.New("capture: bridge stopped")

// Option configures a [Bridge].
type Option func(*Bridge)

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithLogger sets the logger used for drop warnings. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// Bridge is the thread-safe handoff between the capture callback and the
// pipeline. Push may be called from any thread; Next must be called from a
// single consumer goroutine.
type Bridge struct {
	sampleRate int
	frameSize  int
	metrics    *observe.Metrics
	log        *slog.Logger

	running atomic.Bool
	dropped atomic.Uint64

	mu       sync.Mutex
	frames   []audio.AudioFrame
	pending  []int16
	captured int64 // samples framed so far, for timestamps
	stopped  bool
	notify   chan struct{}
}

// NewBridge returns a bridge that emits frames of frameSize samples at
// sampleRate. The bridge starts in the stopped state.
func NewBridge(sampleRate, frameSize int, opts ...Option) *Bridge {
	if sampleRate <= 0 {
		sampleRate = audio.CaptureSampleRate
	}
	if frameSize <= 0 {
		frameSize = audio.CaptureBlockSize
	}
	b := &Bridge{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		notify:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

// Start marks the consumer as running; pushes are accepted from now on.
func (b *Bridge) Start() {
	b.mu.Lock()
	b.stopped = false
	b.mu.Unlock()
	b.running.Store(true)
}

// Stop rejects further pushes and lets [Bridge.Next] return [ErrStopped] once
// the queue is drained. A partial frame that never filled up is discarded.
// Stop is idempotent.
func (b *Bridge) Stop() {
	b.running.Store(false)
	b.mu.Lock()
	b.stopped = true
	b.pending = nil
	b.mu.Unlock()
	b.wake()
}

// Running reports whether pushes are currently accepted.
func (b *Bridge) Running() bool { return b.running.Load() }

// Push hands one raw little-endian int16 PCM block from the hardware thread
// to the pipeline. It never blocks beyond a short critical section and is
// suitable as an [audio.CaptureCallback].
func (b *Bridge) Push(pcm []byte) {
	ctx := context.Background()
	if !b.running.Load() {
		n := b.dropped.Add(1)
		b.metrics.RecordCaptureDrop(ctx, observe.ReasonNotRunning)
		b.log.Warn("capture: pipeline not running, audio block dropped",
			"bytes", len(pcm), "dropped_total", n)
		return
	}

	samples := audio.BytesToSamples(pcm)
	produced := 0

	b.mu.Lock()
	b.pending = append(b.pending, samples...)
	for len(b.pending) >= b.frameSize {
		f := audio.AudioFrame{
			Samples:    append([]int16(nil), b.pending[:b.frameSize]...),
			SampleRate: b.sampleRate,
			Timestamp:  audio.SamplesDuration(int(b.captured), b.sampleRate),
		}
		b.frames = append(b.frames, f)
		b.captured += int64(b.frameSize)
		b.pending = b.pending[b.frameSize:]
		produced++
	}
	if len(b.pending) == 0 {
		b.pending = nil
	}
	b.mu.Unlock()

	if produced > 0 {
		b.metrics.CaptureFrames.Add(ctx, int64(produced))
		b.wake()
	}
}

func (b *Bridge) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued frame, blocking until one is available. It
// returns [ErrStopped] after Stop once the queue is empty, or ctx.Err() if ctx
// ends first.
func (b *Bridge) Next(ctx context.Context) (audio.AudioFrame, error) {
	for {
		b.mu.Lock()
		if len(b.frames) > 0 {
			f := b.frames[0]
			b.frames[0] = audio.AudioFrame{}
			b.frames = b.frames[1:]
			b.mu.Unlock()
			return f, nil
		}
		stopped := b.stopped
		b.mu.Unlock()
		if stopped {
			return audio.AudioFrame{}, ErrStopped
		}

		select {
		case <-b.notify:
		case <-ctx.Done():
			return audio.AudioFrame{}, ctx.Err()
		}
	}
}

// Len returns the number of frames waiting for the consumer.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Dropped returns the number of blocks dropped because the bridge was not
// running.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }
