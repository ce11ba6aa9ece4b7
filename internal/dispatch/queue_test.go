package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/transrouter/internal/dispatch"
	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/internal/segment"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func seg(seq uint64) segment.Segment {
	return segment.Segment{Seq: seq, Samples: make([]int16, 1600), SampleRate: 16000, Frames: 1}
}

func TestTrySend_FullQueueDropsImmediately(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	q := dispatch.New(50, dispatch.WithMetrics(m))
	ctx := context.Background()

	for i := range 50 {
		if got := q.TrySend(ctx, seg(uint64(i+1)), 100*time.Millisecond); got != dispatch.Enqueued {
			t.Fatalf("TrySend #%d = %v, want enqueued", i+1, got)
		}
	}
	if q.Len() != 50 {
		t.Fatalf("Len = %d, want 50", q.Len())
	}

	start := time.Now()
	got := q.TrySend(ctx, seg(51), 100*time.Millisecond)
	elapsed := time.Since(start)

	if got != dispatch.DroppedFull {
		t.Errorf("51st TrySend = %v, want %v", got, dispatch.DroppedFull)
	}
	if !got.Dropped() {
		t.Error("Dropped() = false for a drop outcome")
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("51st TrySend took %v, want <= 100ms", elapsed)
	}
	if q.Len() != 50 {
		t.Errorf("Len after drop = %d, want 50", q.Len())
	}

	st := q.Stats()
	if st.Attempts != 51 || st.Enqueued != 50 || st.DroppedFull != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestTrySend_DefaultCapacity(t *testing.T) {
	t.Parallel()

	q := dispatch.New(0)
	if q.Cap() != dispatch.DefaultCapacity {
		t.Errorf("Cap = %d, want %d", q.Cap(), dispatch.DefaultCapacity)
	}
}

func TestReceive_PreservesOrder(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	q := dispatch.New(3, dispatch.WithMetrics(m))
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		if got := q.TrySend(ctx, seg(i), 0); got != dispatch.Enqueued {
			t.Fatalf("TrySend(S%d) = %v", i, got)
		}
	}
	for want := uint64(1); want <= 3; want++ {
		got, err := q.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if got.Seq != want {
			t.Errorf("Receive order: got S%d, want S%d", got.Seq, want)
		}
	}
}

func TestReceive_ContextCancelled(t *testing.T) {
	t.Parallel()

	q := dispatch.New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Receive err = %v, want DeadlineExceeded", err)
	}
}

func TestTrySend_FreedSlotAccepted(t *testing.T) {
	t.Parallel()

	q := dispatch.New(1)
	ctx := context.Background()
	q.TrySend(ctx, seg(1), 0)

	if _, err := q.Receive(ctx); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got := q.TrySend(ctx, seg(2), 0); got != dispatch.Enqueued {
		t.Errorf("TrySend after drain = %v, want enqueued", got)
	}
}

// TestTrySend_SustainedOverflow hammers a small queue from several producers
// while a slow consumer drains it, then checks the drop accounting and the
// capacity bound.
func TestTrySend_SustainedOverflow(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	q := dispatch.New(5, dispatch.WithMetrics(m))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var overCap atomic.Bool
	var monitor sync.WaitGroup
	monitor.Add(1)
	go func() {
		defer monitor.Done()
		for ctx.Err() == nil {
			if q.Len() > q.Cap() {
				overCap.Store(true)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	var received atomic.Int64
	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for {
			if _, err := q.Receive(ctx); err != nil {
				return
			}
			received.Add(1)
			time.Sleep(time.Millisecond)
		}
	}()

	const producers, perProducer = 4, 100
	var enqueued, dropped atomic.Int64
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				if q.TrySend(ctx, seg(uint64(p*perProducer+i)), 5*time.Millisecond).Dropped() {
					dropped.Add(1)
				} else {
					enqueued.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	st := q.Stats()
	cancel()
	consumer.Wait()
	monitor.Wait()

	if overCap.Load() {
		t.Error("queue length exceeded capacity")
	}
	if st.Attempts != producers*perProducer {
		t.Errorf("Attempts = %d, want %d", st.Attempts, producers*perProducer)
	}
	if st.Dropped() != st.Attempts-st.Enqueued {
		t.Errorf("Dropped = %d, want Attempts-Enqueued = %d", st.Dropped(), st.Attempts-st.Enqueued)
	}
	if uint64(dropped.Load()) != st.Dropped() || uint64(enqueued.Load()) != st.Enqueued {
		t.Errorf("caller outcomes (enq=%d drop=%d) disagree with Stats %+v", enqueued.Load(), dropped.Load(), st)
	}
	if st.Dropped() == 0 {
		t.Error("expected drops under sustained overflow")
	}
}

func TestTrySend_RecordsDropMetrics(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	q := dispatch.New(1, dispatch.WithMetrics(m))
	ctx := context.Background()
	q.TrySend(ctx, seg(1), 0)
	q.TrySend(ctx, seg(2), 0)
	q.TrySend(ctx, seg(3), 0)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var drops, depth int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				continue
			}
			switch met.Name {
			case "transrouter.dispatch.drops":
				for _, dp := range sum.DataPoints {
					if v, ok := dp.Attributes.Value("reason"); ok && v.AsString() == observe.ReasonFull {
						drops = dp.Value
					}
				}
			case "transrouter.dispatch.queue_depth":
				depth = sum.DataPoints[0].Value
			}
		}
	}
	if drops != 2 {
		t.Errorf("full drops = %d, want 2", drops)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		o    dispatch.Outcome
		want string
	}{
		{dispatch.Enqueued, "enqueued"},
		{dispatch.DroppedFull, "dropped_full"},
		{dispatch.DroppedTimeout, "dropped_timeout"},
		{dispatch.DroppedCancelled, "dropped_cancelled"},
		{dispatch.Outcome(42), "Outcome(42)"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(tt.o), got, tt.want)
		}
	}
}

func TestOutcomeErr(t *testing.T) {
	t.Parallel()

	if err := dispatch.Enqueued.Err(); err != nil {
		t.Errorf("Enqueued.Err() = %v, want nil", err)
	}
	for _, o := range []dispatch.Outcome{dispatch.DroppedFull, dispatch.DroppedTimeout, dispatch.DroppedCancelled} {
		if err := o.Err(); !errors.Is(err, dispatch.ErrDropped) {
			t.Errorf("%s.Err() = %v, want ErrDropped", o, err)
		}
	}
}
