// Package mock provides a test double for the tts.Synthesizer interface.
//
// Example:
//
//	s := &mock.Synthesizer{Samples: []int16{1, 2, 3}, SampleRate: 16000}
//	_ = s.StartSession(ctx)
//	pcm, _ := s.Synthesize(ctx, "hello", "")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/transrouter/pkg/audio"
	"github.com/MrWong99/transrouter/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Samples is returned by every successful Synthesize call.
	Samples []int16

	// SampleRate is reported by Format. Zero means 16000.
	SampleRate int

	// SynthesizeErr, StartErr and StopErr are returned by the matching methods.
	SynthesizeErr error
	StartErr      error
	StopErr       error

	// RequireStart makes Synthesize return tts.ErrNotStarted outside a session.
	RequireStart bool

	// Calls records every Synthesize call in order.
	Calls []SynthesizeCall

	StartCount int
	StopCount  int

	active bool
}

// StartSession records the call.
func (s *Synthesizer) StartSession(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCount++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.active = true
	return nil
}

// StopSession records the call.
func (s *Synthesizer) StopSession(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCount++
	s.active = false
	return s.StopErr
}

// Synthesize records the call and returns a copy of Samples.
func (s *Synthesizer) Synthesize(_ context.Context, text, voice string) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, SynthesizeCall{Text: text, Voice: voice})
	if s.RequireStart && !s.active {
		return nil, tts.ErrNotStarted
	}
	if s.SynthesizeErr != nil {
		return nil, s.SynthesizeErr
	}
	out := make([]int16, len(s.Samples))
	copy(out, s.Samples)
	return out, nil
}

// Format reports mono PCM at SampleRate.
func (s *Synthesizer) Format() audio.Format {
	rate := s.SampleRate
	if rate == 0 {
		rate = 16000
	}
	return audio.Format{SampleRate: rate, Channels: 1}
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Active reports whether a session is currently started.
func (s *Synthesizer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
