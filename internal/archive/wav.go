// Package archive persists captured and synthesized audio as WAV files.
//
// [WAVWriter] is the "persist buffer" sink: it writes one mono 16-bit WAV per
// call into a per-kind directory. [Recorder] accumulates every captured frame
// of a session and persists them once when the session stops.
package archive

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/MrWong99/transrouter/internal/observe"
)

// Kind names an archive stream.
type Kind string

const (
	// KindRecording is the raw microphone capture of one session.
	KindRecording Kind = "recording"

	// KindSynthesis is the synthesized audio of one utterance.
	KindSynthesis Kind = "synthesis"
)

// ErrEmpty is returned when asked to persist a buffer without samples.
var ErrEmpty = errors.New("archive: no audio data")

// Persister stores one audio buffer as an archive unit and returns its
// location.
type Persister interface {
	Persist(ctx context.Context, kind Kind, samples []int16, sampleRate int) (string, error)
}

// Compile-time interface assertion.
var _ Persister = (*WAVWriter)(nil)

// WAVOption configures a [WAVWriter].
type WAVOption func(*WAVWriter)

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) WAVOption {
	return func(w *WAVWriter) { w.now = now }
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) WAVOption {
	return func(w *WAVWriter) { w.metrics = m }
}

// WAVWriter writes archive units as <dir>/<kind>_<YYYYmmdd_HHMMSS>.wav. A
// numeric suffix is appended when two units land in the same second. It is
// safe for concurrent use.
type WAVWriter struct {
	dirs    map[Kind]string
	now     func() time.Time
	metrics *observe.Metrics

	mu sync.Mutex // serialises name selection
}

// NewWAVWriter returns a writer storing recordings in recordingsDir and
// synthesized utterances in synthesisDir. Directories are created on demand.
func NewWAVWriter(recordingsDir, synthesisDir string, opts ...WAVOption) *WAVWriter {
	w := &WAVWriter{
		dirs: map[Kind]string{
			KindRecording: recordingsDir,
			KindSynthesis: synthesisDir,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Persist implements [Persister].
func (w *WAVWriter) Persist(ctx context.Context, kind Kind, samples []int16, sampleRate int) (path string, err error) {
	defer func() { w.metrics.RecordArchive(ctx, string(kind), err) }()

	if len(samples) == 0 {
		return "", ErrEmpty
	}
	if sampleRate <= 0 {
		return "", fmt.Errorf("archive: invalid sample rate %d", sampleRate)
	}
	dir, ok := w.dirs[kind]
	if !ok {
		return "", fmt.Errorf("archive: unknown kind %q", kind)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create %s: %w", dir, err)
	}

	f, path, err := w.create(dir, kind)
	if err != nil {
		return "", err
	}
	format := beep.Format{SampleRate: beep.SampleRate(sampleRate), NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, &pcmStreamer{samples: samples}, format); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("archive: encode %s: %w", path, err)
	}
	if err := restoreNegativeFullScale(f, samples); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("archive: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("archive: close %s: %w", path, err)
	}
	return path, nil
}

// create opens a fresh file for kind, never overwriting an existing one.
func (w *WAVWriter) create(dir string, kind Kind) (*os.File, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	base := fmt.Sprintf("%s_%s", kind, w.now().Format("20060102_150405"))
	for i := 0; ; i++ {
		name := base + ".wav"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.wav", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("archive: create %s: %w", path, err)
		}
		return f, path, nil
	}
}

// pcmStreamer adapts int16 mono samples to a [beep.Streamer].
type pcmStreamer struct {
	samples []int16
	pos     int
}

func (s *pcmStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := copy2(buf, s.samples[s.pos:])
	s.pos += n
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

// wavHeaderSize is the length of the canonical RIFF header beep writes before
// the sample data.
const wavHeaderSize = 44

// restoreNegativeFullScale rewrites every math.MinInt16 sample in place. beep
// scales signed samples symmetrically by 32767, so -32768 would otherwise be
// stored as -32767.
func restoreNegativeFullScale(f *os.File, samples []int16) error {
	var minSample [2]byte
	binary.LittleEndian.PutUint16(minSample[:], uint16(0x8000))
	for i, v := range samples {
		if v != math.MinInt16 {
			continue
		}
		if _, err := f.WriteAt(minSample[:], int64(wavHeaderSize+2*i)); err != nil {
			return err
		}
	}
	return nil
}

// copy2 maps int16 to [-1, 1] with the same 32767 scale beep's encoder
// multiplies by, so every value above math.MinInt16 round-trips exactly.
func copy2(dst [][2]float64, src []int16) int {
	n := min(len(dst), len(src))
	for i := range n {
		v := float64(src[i]) / 32767
		dst[i] = [2]float64{v, v}
	}
	return n
}
