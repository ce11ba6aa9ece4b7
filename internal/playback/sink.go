// Package playback consumes the remote channel's reply stream: it plays
// translated audio on the output device and archives each completed utterance.
package playback

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/transrouter/internal/archive"
	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/pkg/audio"
	"github.com/MrWong99/transrouter/pkg/provider/s2s"
)

// Option configures a [Sink].
type Option func(*Sink)

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// Sink writes synthesized audio to an output device and persists one archive
// file per utterance.
//
// A Sink is driven by a single goroutine through [Sink.Run]; it is not safe
// for concurrent use. Device writes block that goroutine, which in turn stops
// it from draining the reply stream: a device that cannot keep up slows the
// remote receive loop instead of growing a buffer.
type Sink struct {
	out       audio.OutputDevice
	persister archive.Persister
	metrics   *observe.Metrics

	// buf is the synthesis buffer of the current utterance, at bufRate.
	buf     []int16
	bufRate int

	utterances int
}

// NewSink returns a sink writing to out and archiving through p.
func NewSink(out audio.OutputDevice, p archive.Persister, opts ...Option) *Sink {
	s := &Sink{out: out, persister: p}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Run handles events until the stream closes or ctx ends. A partially
// received utterance is discarded on return, not archived.
func (s *Sink) Run(ctx context.Context, events <-chan s2s.Event) error {
	defer s.discard(ctx)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.Handle(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

// Handle processes a single event.
func (s *Sink) Handle(ctx context.Context, ev s2s.Event) {
	switch ev.Type {
	case s2s.EventAudio:
		s.play(ctx, ev)
	case s2s.EventTurnComplete:
		s.complete(ctx)
	}
}

func (s *Sink) play(ctx context.Context, ev s2s.Event) {
	samples := audio.BytesToSamples(ev.Audio)
	if len(samples) == 0 {
		return
	}
	rate := ev.SampleRate
	if rate <= 0 {
		rate = s.out.Format().SampleRate
	}

	if s.bufRate == 0 {
		s.bufRate = rate
	}
	s.buf = append(s.buf, audio.ResampleMono(samples, rate, s.bufRate)...)

	pcm := audio.ResampleMono(samples, rate, s.out.Format().SampleRate)
	start := time.Now()
	err := s.out.Write(pcm)
	s.metrics.PlaybackWriteDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.PlaybackWriteErrors.Add(ctx, 1)
		observe.Logger(ctx).Warn("playback write failed", "samples", len(pcm), "err", err)
		return
	}
	s.metrics.PlaybackChunks.Add(ctx, 1)
}

func (s *Sink) complete(ctx context.Context) {
	log := observe.Logger(ctx)
	samples, rate := s.buf, s.bufRate
	s.buf, s.bufRate = nil, 0

	if len(samples) == 0 {
		log.Warn("no synthesized audio to save")
		return
	}
	s.utterances++
	path, err := s.persister.Persist(ctx, archive.KindSynthesis, samples, rate)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("failed to save synthesized audio", "err", err)
		}
		return
	}
	log.Info("synthesized audio saved",
		"path", path,
		"duration", audio.SamplesDuration(len(samples), rate),
		"utterance", s.utterances,
	)
}

func (s *Sink) discard(ctx context.Context) {
	if len(s.buf) == 0 {
		return
	}
	observe.Logger(ctx).Debug("discarding partial utterance", "samples", len(s.buf))
	s.buf, s.bufRate = nil, 0
}

// Buffered returns the number of samples held for the current utterance.
func (s *Sink) Buffered() int { return len(s.buf) }

// Utterances returns the number of non-empty utterances completed.
func (s *Sink) Utterances() int { return s.utterances }
