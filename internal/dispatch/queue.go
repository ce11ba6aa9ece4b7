// Package dispatch decouples segment production from the remote service's
// send rate with a bounded FIFO and a drop-on-overflow backpressure policy.
//
// [Queue.TrySend] never lets the queue grow past its capacity: a full queue
// drops the segment immediately, and a send that cannot complete within the
// timeout drops it after the wait. Every drop is logged, counted in
// [Queue.Stats] and exported on the transrouter.dispatch.drops metric; no
// drop fails the pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/internal/segment"
)

// Reference tuning.
const (
	DefaultCapacity    = 50
	DefaultSendTimeout = 100 * time.Millisecond
)

// ErrDropped is wrapped by [Outcome.Err] for every dropped segment.
var ErrDropped = errors.New("dispatch: segment dropped")

// ReasonCancelled is reported when the caller's context ends while waiting.
const ReasonCancelled = "cancelled"

// Outcome reports what happened to a segment passed to [Queue.TrySend].
type Outcome int

const (
	// Enqueued means the segment is waiting to be sent.
	Enqueued Outcome = iota

	// DroppedFull means the queue was at capacity and the segment was dropped
	// without waiting.
	DroppedFull

	// DroppedTimeout means no slot became free within the timeout.
	DroppedTimeout

	// DroppedCancelled means the context ended while waiting for a slot.
	DroppedCancelled
)

// String returns the human-readable name of the outcome.
func (o Outcome) String() string {
	switch o {
	case Enqueued:
		return "enqueued"
	case DroppedFull:
		return "dropped_full"
	case DroppedTimeout:
		return "dropped_timeout"
	case DroppedCancelled:
		return "dropped_cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Dropped reports whether the segment was discarded.
func (o Outcome) Dropped() bool { return o != Enqueued }

// Err returns nil for Enqueued and an error wrapping [ErrDropped] otherwise.
func (o Outcome) Err() error {
	if !o.Dropped() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDropped, o)
}

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Attempts         uint64 `json:"attempts"`
	Enqueued         uint64 `json:"enqueued"`
	DroppedFull      uint64 `json:"dropped_full"`
	DroppedTimeout   uint64 `json:"dropped_timeout"`
	DroppedCancelled uint64 `json:"dropped_cancelled"`
	Len              int    `json:"len"`
	Cap              int    `json:"cap"`
}

// Dropped returns the total number of dropped segments.
func (s Stats) Dropped() uint64 {
	return s.DroppedFull + s.DroppedTimeout + s.DroppedCancelled
}

// Option configures a [Queue].
type Option func(*Queue)

// WithSendTimeout sets the default wait used when TrySend is called with a
// non-positive timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is a bounded FIFO of speech segments. It is safe for concurrent use;
// ordering is preserved for a single producer and a single consumer.
type Queue struct {
	ch      chan segment.Segment
	timeout time.Duration
	metrics *observe.Metrics

	attempts         atomic.Uint64
	enqueued         atomic.Uint64
	droppedFull      atomic.Uint64
	droppedTimeout   atomic.Uint64
	droppedCancelled atomic.Uint64

	// afterCapacityCheck runs between the full check and the first send
	// attempt. Tests use it to race a competing producer.
	afterCapacityCheck func()
}

// New returns a queue with the given capacity. A non-positive capacity uses
// [DefaultCapacity].
func New(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		ch:      make(chan segment.Segment, capacity),
		timeout: DefaultSendTimeout,
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	return q
}

// TrySend offers seg to the queue. When the queue is already full the segment
// is dropped immediately; otherwise TrySend waits up to timeout for a free
// slot and drops the segment if none appears. A non-positive timeout uses the
// queue default.
func (q *Queue) TrySend(ctx context.Context, seg segment.Segment, timeout time.Duration) Outcome {
	q.attempts.Add(1)
	if timeout <= 0 {
		timeout = q.timeout
	}

	if len(q.ch) >= cap(q.ch) {
		return q.drop(ctx, seg, DroppedFull)
	}
	if q.afterCapacityCheck != nil {
		q.afterCapacityCheck()
	}

	select {
	case q.ch <- seg:
		return q.accept(ctx)
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- seg:
		return q.accept(ctx)
	case <-timer.C:
		return q.drop(ctx, seg, DroppedTimeout)
	case <-ctx.Done():
		return q.drop(ctx, seg, DroppedCancelled)
	}
}

func (q *Queue) accept(ctx context.Context) Outcome {
	q.enqueued.Add(1)
	q.metrics.DispatchEnqueued.Add(ctx, 1)
	q.metrics.DispatchQueueDepth.Add(ctx, 1)
	return Enqueued
}

func (q *Queue) drop(ctx context.Context, seg segment.Segment, o Outcome) Outcome {
	log := observe.Logger(ctx)
	switch o {
	case DroppedFull:
		q.droppedFull.Add(1)
		q.metrics.RecordDispatchDrop(ctx, observe.ReasonFull)
		log.Warn("dispatch queue full, segment dropped",
			"seq", seg.Seq, "duration", seg.Duration(), "capacity", cap(q.ch))
	case DroppedTimeout:
		q.droppedTimeout.Add(1)
		q.metrics.RecordDispatchDrop(ctx, observe.ReasonTimeout)
		log.Warn("dispatch queue send timed out, segment dropped",
			"seq", seg.Seq, "duration", seg.Duration(), "queue_len", len(q.ch))
	case DroppedCancelled:
		q.droppedCancelled.Add(1)
		q.metrics.RecordDispatchDrop(ctx, ReasonCancelled)
		log.Debug("dispatch cancelled, segment discarded", "seq", seg.Seq)
	}
	return o
}

// Receive blocks until a segment is available or ctx ends.
func (q *Queue) Receive(ctx context.Context) (segment.Segment, error) {
	select {
	case seg := <-q.ch:
		q.metrics.DispatchQueueDepth.Add(ctx, -1)
		return seg, nil
	case <-ctx.Done():
		return segment.Segment{}, ctx.Err()
	}
}

// Len returns the number of queued segments.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Attempts:         q.attempts.Load(),
		Enqueued:         q.enqueued.Load(),
		DroppedFull:      q.droppedFull.Load(),
		DroppedTimeout:   q.droppedTimeout.Load(),
		DroppedCancelled: q.droppedCancelled.Load(),
		Len:              len(q.ch),
		Cap:              cap(q.ch),
	}
}
