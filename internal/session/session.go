// Package session owns one run of the translation pipeline, from opening the
// devices to the final archive flush, and the [Supervisor] that restarts runs
// after recoverable failures.
//
// A [Session] wires the stages together:
//
//	capture device ─► capture.Bridge ─► segment.Segmenter ─► dispatch.Queue
//	                        │                                     │
//	                        ▼                                     ▼
//	               archive.Recorder                        remote.Channel
//	                                                              │
//	                                                              ▼
//	                                 output device ◄─── playback.Sink ─► archive
//
// Resources are acquired in Run and released on every exit path in a fixed
// order: capture stop, pipeline cancel, remote close, playback stop, recording
// flush, synthesizer stop, device close.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/transrouter/internal/archive"
	"github.com/MrWong99/transrouter/internal/capture"
	"github.com/MrWong99/transrouter/internal/dispatch"
	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/internal/playback"
	"github.com/MrWong99/transrouter/internal/remote"
	"github.com/MrWong99/transrouter/internal/segment"
	"github.com/MrWong99/transrouter/pkg/audio"
	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	"github.com/MrWong99/transrouter/pkg/provider/tts"
	"github.com/MrWong99/transrouter/pkg/provider/vad"
)

// ErrFatal marks failures that must abort startup instead of being retried,
// such as a hardware device that cannot be opened.
var ErrFatal = errors.New("session: fatal")

// errAlreadyRun is returned when Run is called on a used Session.
var errAlreadyRun = errors.New("session: already run")

// IsRecoverable reports whether err ends a session in a way that a fresh
// session may fix. Fatal errors and cancellation are not recoverable.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, ErrFatal) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CaptureOpener returns a capture device for one session.
type CaptureOpener func(ctx context.Context) (audio.CaptureDevice, error)

// OutputOpener opens an output device for one session.
type OutputOpener func(ctx context.Context) (audio.OutputDevice, error)

// Config holds everything a [Session] needs. Remote, Oracle, OpenCapture,
// OpenOutput and Persister are required.
type Config struct {
	// Remote is the translation service.
	Remote s2s.Provider

	// RemoteName labels the provider in logs and metrics.
	RemoteName string

	// RemoteSession carries instructions, voice and response modality. The
	// session ID and input sample rate are filled in by the Session.
	RemoteSession s2s.SessionConfig

	// Synthesizer renders text replies when the remote service answers in
	// text. Optional.
	Synthesizer tts.Synthesizer

	// SynthesizerVoice is passed to every Synthesize call.
	SynthesizerVoice string

	Oracle  vad.Oracle
	Segment segment.Config

	// FrameSize is the number of samples per pipeline frame. Default: 1600.
	FrameSize int

	// QueueCapacity bounds the dispatch queue. Default: 50.
	QueueCapacity int

	// SendTimeout is how long a segment may wait for a queue slot. Default: 100ms.
	SendTimeout time.Duration

	OpenCapture CaptureOpener
	OpenOutput  OutputOpener

	// Persister stores the session recording and every synthesized utterance.
	Persister archive.Persister

	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.RemoteName == "" {
		c.RemoteName = "remote"
	}
	if c.Segment.SampleRate <= 0 {
		c.Segment.SampleRate = audio.CaptureSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = audio.CaptureBlockSize
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = dispatch.DefaultCapacity
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = dispatch.DefaultSendTimeout
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// State is the lifecycle state of a [Session].
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is a single, non-restartable run of the pipeline. Use a
// [Supervisor] to restart after failures.
type Session struct {
	cfg Config
	id  string

	bridge    *capture.Bridge
	segmenter *segment.Segmenter
	queue     *dispatch.Queue
	recorder  *archive.Recorder

	state atomic.Int32

	mu        sync.Mutex
	channel   *remote.Channel
	startedAt time.Time
}

// New returns an idle session with a fresh identifier. Each session starts
// with its own segmenter, queue and recording buffer.
func New(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:       cfg,
		id:        uuid.NewString(),
		bridge:    capture.NewBridge(cfg.Segment.SampleRate, cfg.FrameSize, capture.WithMetrics(cfg.Metrics)),
		segmenter: segment.New(cfg.Oracle, cfg.Segment, segment.WithMetrics(cfg.Metrics)),
		queue: dispatch.New(cfg.QueueCapacity,
			dispatch.WithSendTimeout(cfg.SendTimeout),
			dispatch.WithMetrics(cfg.Metrics),
		),
		recorder: archive.NewRecorder(cfg.Persister, cfg.Segment.SampleRate),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Running reports whether the pipeline is fully up.
func (s *Session) Running() bool { return s.State() == StateRunning }

// SetThreshold changes the VAD threshold of the running segmenter.
func (s *Session) SetThreshold(t float64) error { return s.segmenter.SetThreshold(t) }

// Threshold returns the VAD threshold in effect.
func (s *Session) Threshold() float64 { return s.segmenter.Threshold() }

// resources tracks what Run has acquired so teardown releases exactly that.
type resources struct {
	channel  *remote.Channel
	output   audio.OutputDevice
	capture  audio.CaptureDevice
	capStart bool
	synth    bool

	cancelRun  context.CancelFunc
	cancelPipe context.CancelFunc
	remoteDone chan error
	playDone   chan struct{}
	pipeDone   chan struct{}
}

// Run acquires the remote channel, the output device and the capture device,
// in that order, then runs the pipeline until ctx ends or a stage fails.
//
// It returns nil after cancellation, an error wrapping [ErrFatal] when a
// device cannot be opened, and a recoverable error (see [IsRecoverable]) when
// the remote channel fails. Everything acquired is released before Run
// returns.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return errAlreadyRun
	}
	defer s.state.Store(int32(StateStopped))

	ctx = observe.WithSessionID(ctx, s.id)
	ctx, span := observe.StartSpan(ctx, "session.run",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("remote.provider", s.cfg.RemoteName),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := observe.Logger(ctx)

	s.segmenter.Reset()

	res := &resources{}
	defer s.teardown(ctx, res)

	if err := s.acquire(ctx, res); err != nil {
		return err
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.state.Store(int32(StateRunning))
	s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	defer s.cfg.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	log.Info("session started",
		"provider", s.cfg.RemoteName,
		"sample_rate", s.cfg.Segment.SampleRate,
		"frame_size", s.cfg.FrameSize,
		"queue_capacity", s.cfg.QueueCapacity,
	)

	select {
	case <-ctx.Done():
		log.Info("session stopping", "reason", "cancelled")
		return nil
	case rerr := <-res.remoteDone:
		res.remoteDone = nil
		if rerr == nil {
			return nil
		}
		return fmt.Errorf("session: %w", rerr)
	}
}

func (s *Session) acquire(ctx context.Context, res *resources) error {
	cfg := s.cfg
	log := observe.Logger(ctx)

	rcfg := cfg.RemoteSession
	rcfg.SessionID = s.id
	rcfg.InputSampleRate = cfg.Segment.SampleRate
	opts := []remote.Option{
		remote.WithMetrics(cfg.Metrics),
		remote.WithProviderName(cfg.RemoteName),
	}
	if cfg.Synthesizer != nil && rcfg.WithDefaults().ResponseModality == s2s.ModalityText {
		opts = append(opts, remote.WithSynthesizer(cfg.Synthesizer, cfg.SynthesizerVoice))
	}
	ch, err := remote.Open(ctx, cfg.Remote, rcfg, s.queue, opts...)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	res.channel = ch
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()

	if cfg.Synthesizer != nil {
		if err := cfg.Synthesizer.StartSession(ctx); err != nil {
			return fmt.Errorf("session: start synthesizer: %w", err)
		}
		res.synth = true
	}

	out, err := cfg.OpenOutput(ctx)
	if err != nil {
		return fmt.Errorf("session: open output device: %w: %w", ErrFatal, err)
	}
	res.output = out

	capDev, err := cfg.OpenCapture(ctx)
	if err != nil {
		return fmt.Errorf("session: open capture device: %w: %w", ErrFatal, err)
	}
	res.capture = capDev

	runCtx, cancelRun := context.WithCancel(ctx)
	res.cancelRun = cancelRun
	res.remoteDone = make(chan error, 1)
	go func() { res.remoteDone <- ch.Run(runCtx) }()

	sink := playback.NewSink(out, cfg.Persister, playback.WithMetrics(cfg.Metrics))
	res.playDone = make(chan struct{})
	go func() {
		defer close(res.playDone)
		_ = sink.Run(runCtx, ch.Events())
		log.Debug("playback stopped", "utterances", sink.Utterances())
		// Keep the receiver from blocking on a stopped sink until the
		// channel closes its event stream.
		audio.Drain(ch.Events())
	}()

	pipeCtx, cancelPipe := context.WithCancel(runCtx)
	res.cancelPipe = cancelPipe
	res.pipeDone = make(chan struct{})
	go func() {
		defer close(res.pipeDone)
		s.pipeline(pipeCtx)
	}()

	s.bridge.Start()
	if err := capDev.Start(s.bridge.Push); err != nil {
		return fmt.Errorf("session: start capture: %w: %w", ErrFatal, err)
	}
	res.capStart = true
	return nil
}

// pipeline moves frames from the capture bridge through the segmenter into
// the dispatch queue. It is the only consumer of the bridge.
func (s *Session) pipeline(ctx context.Context) {
	log := observe.Logger(ctx)
	for ctx.Err() == nil {
		frame, err := s.bridge.Next(ctx)
		if err != nil {
			return
		}
		s.recorder.Append(frame)

		seg, ok, err := s.segmenter.Process(ctx, frame)
		if err != nil {
			log.Warn("vad failed, frame skipped", "err", err)
			continue
		}
		if !ok {
			continue
		}
		log.Info("speech segment detected", "seq", seg.Seq, "duration", seg.Duration())
		s.queue.TrySend(ctx, seg, s.cfg.SendTimeout)
	}
}

// teardown releases res in the documented order. It runs on every exit path
// of Run, including partial acquisition.
func (s *Session) teardown(ctx context.Context, res *resources) {
	s.state.Store(int32(StateStopping))
	log := observe.Logger(ctx)
	cleanup := context.WithoutCancel(ctx)

	// 1. Capture stop: no callback fires after this.
	if res.capStart {
		if err := res.capture.Stop(); err != nil {
			log.Warn("capture stop failed", "err", err)
		}
	}
	s.bridge.Stop()

	// 2. Pipeline cancel; the partial speech run is discarded. Frames the
	// pipeline never reached still belong to the recording.
	if res.cancelPipe != nil {
		res.cancelPipe()
		<-res.pipeDone
	}
	for {
		f, err := s.bridge.Next(cleanup)
		if err != nil {
			break
		}
		s.recorder.Append(f)
	}
	if st := s.segmenter.Snapshot(); st.BufferedFrames > 0 {
		log.Debug("discarding partial segment", "frames", st.BufferedFrames)
	}
	s.segmenter.Reset()

	// 3. Remote close: sender and receiver are cancelled.
	if res.channel != nil {
		_ = res.channel.Close()
	}
	if res.remoteDone != nil {
		<-res.remoteDone
	}

	// 4. Playback stop: the sink exits once the reply stream is closed.
	if res.cancelRun != nil {
		res.cancelRun()
	}
	if res.playDone != nil {
		<-res.playDone
	}

	// 5. Recording flush.
	if res.capStart {
		if _, err := s.recorder.Flush(cleanup); err != nil {
			log.Error("failed to save recording", "err", err)
		}
	}

	// 6. Synthesizer stop.
	if res.synth {
		if err := s.cfg.Synthesizer.StopSession(cleanup); err != nil {
			log.Warn("synthesizer stop failed", "err", err)
		}
	}

	// 7. Device close.
	if res.capture != nil {
		if err := res.capture.Close(); err != nil {
			log.Warn("capture close failed", "err", err)
		}
	}
	if res.output != nil {
		if err := res.output.Close(); err != nil {
			log.Warn("output close failed", "err", err)
		}
	}

	st := s.queue.Stats()
	log.Info("session stopped",
		"segments_enqueued", st.Enqueued,
		"segments_dropped", st.Dropped(),
		"capture_dropped", s.bridge.Dropped(),
	)
}

// Status is a point-in-time view of a session for status endpoints.
type Status struct {
	ID             string         `json:"id"`
	State          string         `json:"state"`
	StartedAt      time.Time      `json:"started_at,omitzero"`
	Uptime         string         `json:"uptime,omitempty"`
	CaptureBacklog int            `json:"capture_backlog"`
	CaptureDropped uint64         `json:"capture_dropped"`
	Dispatch       dispatch.Stats `json:"dispatch"`
	Remote         remote.Stats   `json:"remote"`
}

// Status returns a snapshot of the session counters. It is safe to call
// from any goroutine.
func (s *Session) Status() Status {
	s.mu.Lock()
	ch, started := s.channel, s.startedAt
	s.mu.Unlock()

	st := Status{
		ID:             s.id,
		State:          s.State().String(),
		StartedAt:      started,
		CaptureBacklog: s.bridge.Len(),
		CaptureDropped: s.bridge.Dropped(),
		Dispatch:       s.queue.Stats(),
	}
	if !started.IsZero() {
		st.Uptime = time.Since(started).Truncate(time.Second).String()
	}
	if ch != nil {
		st.Remote = ch.Stats()
	}
	return st
}
