// Package segment turns a stream of fixed-size capture frames into complete
// speech segments using a voice activity oracle.
//
// The [Segmenter] is a two-state machine (silence, accumulating). Speech
// frames are buffered; silent frames inside an utterance are buffered too so
// natural pauses survive. Once the silence run reaches the configured silence
// duration the buffered run is either emitted as one [Segment] or, when it is
// shorter than the minimum speech duration, discarded. A segment is never
// emitted without a terminating silence run.
//
// A Segmenter is owned by a single pipeline goroutine. Only [Segmenter.SetThreshold]
// and [Segmenter.Threshold] may be called concurrently with [Segmenter.Process].
package segment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/pkg/audio"
	"github.com/MrWong99/transrouter/pkg/provider/vad"
)

// Defaults mirror the reference tuning for 100 ms frames at 16 kHz.
const (
	DefaultThreshold  = 0.5
	DefaultMinSpeech  = 250 * time.Millisecond
	DefaultSilence    = 500 * time.Millisecond
	DefaultSampleRate = audio.CaptureSampleRate
)

// ErrInvalidThreshold is returned by [Segmenter.SetThreshold] for values
// outside the open interval (0, 1).
var ErrInvalidThreshold = errors.New("segment: threshold must be within (0, 1)")

// ValidThreshold reports whether t lies in the open interval (0, 1).
func ValidThreshold(t float64) bool { return t > 0 && t < 1 }

// Config holds the segmentation parameters.
type Config struct {
	// SampleRate of incoming frames in Hz. Default: 16000.
	SampleRate int

	// Threshold is the speech probability above which a frame counts as
	// speech. Values outside (0, 1), including zero, take the default: 0.5.
	Threshold float64

	// MinSpeech is the shortest buffered run that is emitted. Default: 250 ms.
	MinSpeech time.Duration

	// Silence is the silence run that terminates an utterance. Default: 500 ms.
	Silence time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if !ValidThreshold(c.Threshold) {
		c.Threshold = DefaultThreshold
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = DefaultMinSpeech
	}
	if c.Silence <= 0 {
		c.Silence = DefaultSilence
	}
	return c
}

// Segment is one utterance: the frames of a silence-terminated speech run
// concatenated into a contiguous buffer. Segments are immutable once emitted.
type Segment struct {
	// Seq numbers segments in emission order, starting at 1 after New or Reset.
	Seq uint64

	// Samples holds the concatenated mono PCM samples.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int

	// Frames is the number of capture frames in the segment.
	Frames int

	// Start is the capture timestamp of the first frame.
	Start time.Duration
}

// Duration returns the audio length of the segment.
func (s Segment) Duration() time.Duration {
	return audio.SamplesDuration(len(s.Samples), s.SampleRate)
}

// PCM returns the segment as little-endian int16 bytes.
func (s Segment) PCM() []byte {
	return audio.SamplesToBytes(s.Samples)
}

// State is a snapshot of the segmenter's mutable state.
type State struct {
	// BufferedFrames is the number of frames awaiting a decision.
	BufferedFrames int

	// BufferedSamples is the total sample count of the buffered frames.
	BufferedSamples int

	// SilenceRun is the current silence run length in samples.
	SilenceRun int

	// Recurrent is a copy of the oracle state.
	Recurrent vad.State
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// Segmenter is the VAD-driven segmentation state machine.
type Segmenter struct {
	oracle  vad.Oracle
	cfg     Config
	metrics *observe.Metrics

	threshold        atomic.Uint64 // math.Float64bits
	minSpeechSamples int
	silenceSamples   int

	buffer     []audio.AudioFrame
	buffered   int
	silenceRun int
	recurrent  vad.State
	seq        uint64
}

// New returns a Segmenter in its initial (silence) state.
func New(oracle vad.Oracle, cfg Config, opts ...Option) *Segmenter {
	cfg = cfg.withDefaults()
	s := &Segmenter{
		oracle:           oracle,
		cfg:              cfg,
		minSpeechSamples: audio.DurationSamples(cfg.MinSpeech, cfg.SampleRate),
		silenceSamples:   audio.DurationSamples(cfg.Silence, cfg.SampleRate),
		recurrent:        vad.NewState(),
	}
	s.threshold.Store(math.Float64bits(cfg.Threshold))
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Threshold returns the current speech probability threshold.
func (s *Segmenter) Threshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// SetThreshold changes the speech probability threshold. It takes effect on
// the next processed frame and is safe to call from any goroutine. Values
// outside (0, 1) are rejected and leave the threshold unchanged.
func (s *Segmenter) SetThreshold(t float64) error {
	if !ValidThreshold(t) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, t)
	}
	s.threshold.Store(math.Float64bits(t))
	return nil
}

// Process feeds one frame through the state machine. It returns the completed
// segment and true when this frame closed a long-enough speech run.
//
// An oracle error leaves the state untouched; the caller may log it and
// continue with the next frame.
func (s *Segmenter) Process(ctx context.Context, frame audio.AudioFrame) (Segment, bool, error) {
	pred, err := s.oracle.Predict(audio.SamplesToFloat32(frame.Samples), s.cfg.SampleRate, s.recurrent)
	if err != nil {
		return Segment{}, false, fmt.Errorf("segment: vad oracle: %w", err)
	}
	s.recurrent = pred.State

	if pred.Probability > s.Threshold() {
		s.silenceRun = 0
		s.append(frame)
		return Segment{}, false, nil
	}

	if len(s.buffer) == 0 {
		// Silence before any speech is discarded.
		return Segment{}, false, nil
	}

	s.silenceRun += frame.Len()
	if s.silenceRun < s.silenceSamples {
		s.append(frame)
		return Segment{}, false, nil
	}

	// The run has ended.
	defer s.clearRun()
	if s.buffered < s.minSpeechSamples {
		s.metrics.SegmentsDiscarded.Add(ctx, 1)
		observe.Logger(ctx).Debug("speech run too short, discarded",
			"samples", s.buffered,
			"min_samples", s.minSpeechSamples,
		)
		return Segment{}, false, nil
	}

	s.seq++
	seg := Segment{
		Seq:        s.seq,
		Samples:    audio.Concat(s.buffer),
		SampleRate: s.cfg.SampleRate,
		Frames:     len(s.buffer),
		Start:      s.buffer[0].Timestamp,
	}
	s.metrics.SegmentsEmitted.Add(ctx, 1)
	s.metrics.SegmentDuration.Record(ctx, seg.Duration().Seconds(),
		metric.WithAttributes(observe.Attr("outcome", "emitted")))
	return seg, true, nil
}

func (s *Segmenter) append(frame audio.AudioFrame) {
	s.buffer = append(s.buffer, frame)
	s.buffered += frame.Len()
}

func (s *Segmenter) clearRun() {
	clear(s.buffer)
	s.buffer = s.buffer[:0]
	s.buffered = 0
	s.silenceRun = 0
}

// Reset unconditionally returns the segmenter to its initial state: the
// buffer and silence counter are cleared, the recurrent state is zeroed and
// segment numbering restarts. Calling Reset repeatedly has the same effect as
// calling it once.
func (s *Segmenter) Reset() {
	s.clearRun()
	s.recurrent = vad.NewState()
	s.seq = 0
}

// Snapshot returns a copy of the current state.
func (s *Segmenter) Snapshot() State {
	return State{
		BufferedFrames:  len(s.buffer),
		BufferedSamples: s.buffered,
		SilenceRun:      s.silenceRun,
		Recurrent:       s.recurrent.Clone(),
	}
}
