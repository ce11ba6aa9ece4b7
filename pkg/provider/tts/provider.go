// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer turns the translated text of one utterance into PCM audio. It
// is used when the remote translation service answers in text rather than
// speech. Backends are selected at construction time through the config
// registry; the pipeline only sees this interface.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/transrouter/pkg/audio"
)

// ErrNotStarted is returned by Synthesize when no session is active.
var ErrNotStarted = errors.New("tts: session not started")

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// StartSession acquires whatever the backend needs (connections, auth).
	// It must be called before Synthesize.
	StartSession(ctx context.Context) error

	// StopSession releases the session. Calling it more than once, or without
	// a prior StartSession, is a no-op.
	StopSession(ctx context.Context) error

	// Synthesize renders text with the given voice and returns mono 16-bit
	// samples at Format().SampleRate. An empty voice selects the backend
	// default. Empty text yields no samples and no error.
	Synthesize(ctx context.Context, text, voice string) ([]int16, error)

	// Format reports the PCM format returned by Synthesize.
	Format() audio.Format
}
