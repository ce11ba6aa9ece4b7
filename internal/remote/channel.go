// Package remote adapts an s2s translation session into the pipeline's
// remote channel.
//
// A [Channel] owns exactly one sender goroutine, which drains the dispatch
// queue and forwards segments in the order they were enqueued, and one
// receiver goroutine, which turns the service's reply stream into the
// audio/utterance-complete events consumed by playback. Both stop together:
// a failure on either side closes the underlying session and is reported by
// [Channel.Run] as a recoverable [*Error].
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/transrouter/internal/dispatch"
	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/pkg/audio"
	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	"github.com/MrWong99/transrouter/pkg/provider/tts"
)

// ErrChannelClosed is reported when the service ends the reply stream
// without giving a reason.
var ErrChannelClosed = errors.New("remote: channel closed by service")

// errAlreadyRunning is returned when Run is called twice.
var errAlreadyRunning = errors.New("remote: channel already running")

// Error is a remote channel failure. It is always recoverable: the session
// that owns the channel may be restarted with a fresh connection.
type Error struct {
	// Op is the failing operation: "connect", "send" or "receive".
	Op string

	// Provider names the backend, e.g. "gemini".
	Provider string

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Option configures a [Channel].
type Option func(*Channel)

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// WithProviderName sets the provider label used in logs, metrics and errors.
func WithProviderName(name string) Option {
	return func(c *Channel) { c.provider = name }
}

// WithSynthesizer renders the accumulated text of every turn through synth
// before the turn is reported complete. It is used with the text response
// modality; synth's session must be started by the caller.
func WithSynthesizer(synth tts.Synthesizer, voice string) Option {
	return func(c *Channel) {
		c.synth = synth
		c.voice = voice
	}
}

// WithEventBuffer sets the capacity of the channel returned by Events.
func WithEventBuffer(n int) Option {
	return func(c *Channel) {
		if n >= 0 {
			c.eventBuffer = n
		}
	}
}

// Channel is the pipeline-facing side of one remote translation session.
type Channel struct {
	handle   s2s.SessionHandle
	queue    *dispatch.Queue
	provider string
	rate     int
	metrics  *observe.Metrics

	synth tts.Synthesizer
	voice string

	eventBuffer int
	out         chan s2s.Event

	running   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once

	mu        sync.Mutex
	cancelRun context.CancelFunc
	sent      uint64
	turns     uint64
	lastText  string
}

// Open connects to the provider and returns a channel that will drain q once
// [Channel.Run] is called. Connection failures are returned as [*Error].
func Open(ctx context.Context, p s2s.Provider, cfg s2s.SessionConfig, q *dispatch.Queue, opts ...Option) (*Channel, error) {
	c := &Channel{
		queue:       q,
		provider:    "remote",
		eventBuffer: 16,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	h, err := p.Connect(ctx, cfg)
	if err != nil {
		c.metrics.RecordRemoteError(ctx, c.provider, "connect")
		return nil, &Error{Op: "connect", Provider: c.provider, Err: err}
	}
	c.handle = h

	// Read after Connect: a failover provider reports the backend that
	// answered.
	c.rate = p.Capabilities().OutputSampleRate
	if c.rate <= 0 {
		c.rate = s2s.DefaultOutputRate
	}
	c.out = make(chan s2s.Event, c.eventBuffer)
	return c, nil
}

// Events returns the stream consumed by playback: EventAudio chunks with a
// concrete SampleRate, then one EventTurnComplete per utterance. The channel
// is closed when Run returns.
func (c *Channel) Events() <-chan s2s.Event { return c.out }

// OutputSampleRate is the rate of audio produced by the remote service.
func (c *Channel) OutputSampleRate() int { return c.rate }

// Run starts the sender and receiver and blocks until both have stopped.
// It returns nil after ctx is cancelled or [Channel.Close] is called, and a
// [*Error] when the service fails.
func (c *Channel) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(c.out)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()
	if c.closing.Load() {
		cancel()
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.sendLoop(gctx) })
	g.Go(func() error { return c.receiveLoop(gctx) })
	g.Go(func() error {
		// Whichever side stops first takes the session down with it.
		<-gctx.Done()
		c.closeHandle()
		return nil
	})

	err := g.Wait()
	var rerr *Error
	if errors.As(err, &rerr) {
		observe.Logger(ctx).Warn("remote channel failed",
			"provider", c.provider, "op", rerr.Op, "err", rerr.Err)
		return err
	}
	return nil
}

// sendLoop forwards queued segments one at a time, preserving queue order.
func (c *Channel) sendLoop(ctx context.Context) error {
	log := observe.Logger(ctx)
	attrs := observe.Attr("provider", c.provider)
	for {
		seg, err := c.queue.Receive(ctx)
		if err != nil {
			return nil
		}
		if err := c.handle.SendAudio(seg.PCM()); err != nil {
			if c.closing.Load() || ctx.Err() != nil {
				return nil
			}
			c.metrics.RecordRemoteError(ctx, c.provider, "send")
			return &Error{Op: "send", Provider: c.provider, Err: err}
		}
		c.metrics.RemoteSent.Add(ctx, 1, metric.WithAttributes(attrs))
		c.mu.Lock()
		c.sent++
		c.mu.Unlock()
		log.Debug("segment sent", "seq", seg.Seq, "duration", seg.Duration())
	}
}

// receiveLoop converts service events into playback events.
func (c *Channel) receiveLoop(ctx context.Context) error {
	log := observe.Logger(ctx)
	var text strings.Builder

	for ev := range c.handle.Events() {
		switch ev.Type {
		case s2s.EventAudio:
			if ev.SampleRate <= 0 {
				ev.SampleRate = c.rate
			}
			log.Debug("received audio", "bytes", len(ev.Audio))
			if !c.forward(ctx, ev) {
				return nil
			}

		case s2s.EventTranscript:
			text.WriteString(ev.Text)

		case s2s.EventTurnComplete:
			full := text.String()
			text.Reset()
			log.Info("translation text", "text", full)
			c.mu.Lock()
			c.turns++
			c.lastText = full
			c.mu.Unlock()

			if c.synth != nil && strings.TrimSpace(full) != "" {
				if synthEv, ok := c.render(ctx, full); ok {
					if !c.forward(ctx, synthEv) {
						return nil
					}
				}
			}
			if !c.forward(ctx, s2s.TurnCompleteEvent()) {
				return nil
			}
		}
	}

	if c.closing.Load() || ctx.Err() != nil {
		return nil
	}
	err := c.handle.Err()
	if err == nil {
		err = ErrChannelClosed
	}
	c.metrics.RecordRemoteError(ctx, c.provider, "receive")
	return &Error{Op: "receive", Provider: c.provider, Err: err}
}

// render synthesises text into one audio event. Failures are logged and the
// turn continues without audio.
func (c *Channel) render(ctx context.Context, text string) (s2s.Event, bool) {
	start := time.Now()
	samples, err := c.synth.Synthesize(ctx, text, c.voice)
	c.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			observe.Logger(ctx).Warn("text synthesis failed", "err", err)
		}
		return s2s.Event{}, false
	}
	if len(samples) == 0 {
		return s2s.Event{}, false
	}
	return s2s.AudioEvent(audio.SamplesToBytes(samples), c.synth.Format().SampleRate), true
}

// forward blocks until playback accepts ev. A slow consumer throttles the
// receive loop and, through it, the service connection.
func (c *Channel) forward(ctx context.Context, ev s2s.Event) bool {
	select {
	case c.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channel) closeHandle() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		if err := c.handle.Close(); err != nil {
			slog.Debug("remote: session close", "provider", c.provider, "err", err)
		}
	})
}

// Close stops Run and closes the underlying session. It is safe to call more
// than once and before Run.
func (c *Channel) Close() error {
	c.closeHandle()
	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Stats reports how many segments were sent and turns completed.
type Stats struct {
	Sent     uint64 `json:"sent"`
	Turns    uint64 `json:"turns"`
	LastText string `json:"last_text,omitempty"`
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Sent: c.sent, Turns: c.turns, LastText: c.lastText}
}
