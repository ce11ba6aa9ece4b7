package archive

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/pkg/audio"
)

// Recorder accumulates every captured frame of one session, independent of
// segmentation, and persists the concatenation once on [Recorder.Flush].
type Recorder struct {
	persister  Persister
	sampleRate int

	mu      sync.Mutex
	samples []int16
	flushed bool
}

// NewRecorder returns a recorder for frames at sampleRate.
func NewRecorder(p Persister, sampleRate int) *Recorder {
	return &Recorder{persister: p, sampleRate: sampleRate}
}

// Append adds frame to the session buffer. Frames appended after Flush are
// ignored.
func (r *Recorder) Append(frame audio.AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed {
		return
	}
	r.samples = append(r.samples, frame.Samples...)
}

// Samples returns the number of buffered samples.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Flush persists the accumulated recording and releases the buffer. Only the
// first call writes; later calls return ("", nil). An empty recording is
// skipped with a warning.
func (r *Recorder) Flush(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.flushed {
		r.mu.Unlock()
		return "", nil
	}
	r.flushed = true
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	path, err := r.persister.Persist(ctx, KindRecording, samples, r.sampleRate)
	if errors.Is(err, ErrEmpty) {
		observe.Logger(ctx).Warn("archive: no recording data to save")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	observe.Logger(ctx).Info("recording saved",
		"path", path,
		"duration", audio.SamplesDuration(len(samples), r.sampleRate),
	)
	return path, nil
}
