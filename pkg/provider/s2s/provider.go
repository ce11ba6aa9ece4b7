// Package s2s defines the Provider interface for remote speech-translation
// backends.
//
// An S2S provider wraps a real-time voice service that accepts raw PCM audio
// and answers with translated speech (or text) in a single, stateful session.
// The pipeline only ever sees the service through SessionHandle: audio goes in
// through SendAudio, tagged events come back on Events.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by SendAudio after the session has ended.
var ErrSessionClosed = errors.New("s2s: session closed")

// Default values used when a SessionConfig field is left empty.
const (
	DefaultInputSampleRate = 16000
	DefaultOutputRate      = 24000
)

// Modality selects what the remote service answers with.
type Modality string

const (
	// ModalityAudio asks the service for synthesised speech.
	ModalityAudio Modality = "audio"

	// ModalityText asks the service for text only. The pipeline then renders
	// the text locally through a tts.Synthesizer.
	ModalityText Modality = "text"
)

// EventType tags an Event received from the remote service.
type EventType int

const (
	// EventAudio carries a chunk of synthesised PCM audio (s16le, mono).
	EventAudio EventType = iota + 1

	// EventTranscript carries a fragment of the translated text.
	EventTranscript

	// EventTurnComplete marks the end of one translated utterance.
	EventTurnComplete
)

// String returns a lowercase name for the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one inbound message from the remote service.
type Event struct {
	Type EventType

	// Audio holds raw little-endian 16-bit PCM for EventAudio.
	Audio []byte

	// SampleRate is the rate of Audio. Zero means the provider's OutputSampleRate.
	SampleRate int

	// Text holds the transcript fragment for EventTranscript.
	Text string
}

// AudioEvent is a convenience constructor for an EventAudio.
func AudioEvent(pcm []byte, sampleRate int) Event {
	return Event{Type: EventAudio, Audio: pcm, SampleRate: sampleRate}
}

// TranscriptEvent is a convenience constructor for an EventTranscript.
func TranscriptEvent(text string) Event {
	return Event{Type: EventTranscript, Text: text}
}

// TurnCompleteEvent is a convenience constructor for an EventTurnComplete.
func TurnCompleteEvent() Event {
	return Event{Type: EventTurnComplete}
}

// SessionConfig is the initial configuration for a new translation session.
type SessionConfig struct {
	// SessionID identifies the translation session. Providers that support
	// it forward the ID to the service; all of them use it in log output.
	SessionID string

	// Instructions is the system-level prompt, e.g. "translate my Chinese
	// input to English, providing only the translation".
	Instructions string

	// Voice is the provider-specific prebuilt voice name. Empty means the
	// service default.
	Voice string

	// InputSampleRate is the rate of the PCM passed to SendAudio.
	// Zero means DefaultInputSampleRate.
	InputSampleRate int

	// ResponseModality selects audio or text answers. Empty means ModalityAudio.
	ResponseModality Modality
}

// WithDefaults returns a copy of cfg with zero fields replaced by defaults.
func (cfg SessionConfig) WithDefaults() SessionConfig {
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.ResponseModality == "" {
		cfg.ResponseModality = ModalityAudio
	}
	return cfg
}

// InputMIMEType returns the MIME type announced for outbound audio,
// e.g. "audio/pcm;rate=16000".
func (cfg SessionConfig) InputMIMEType() string {
	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = DefaultInputSampleRate
	}
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// OutputSampleRate is the rate of audio carried by EventAudio when the
	// event does not say otherwise.
	OutputSampleRate int

	// MaxSessionDurationMs is the hard upper bound on session lifetime imposed by
	// the service, in milliseconds. Zero means no documented limit.
	MaxSessionDurationMs int

	// Modalities lists the response modalities the provider supports.
	Modalities []Modality

	// Voices lists the prebuilt voice names the provider accepts.
	Voices []string
}

// SupportsModality reports whether m is listed in c.Modalities.
func (c Capabilities) SupportsModality(m Modality) bool {
	for _, have := range c.Modalities {
		if have == m {
			return true
		}
	}
	return false
}

// SessionHandle represents an open translation session.
//
// The session is on the hot path of the pipeline; every method must return
// quickly. Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one PCM chunk (s16le, mono, InputSampleRate) to the
	// service. Chunks are delivered in call order. Returns an error if the
	// session is closed or the write fails.
	SendAudio(chunk []byte) error

	// Events returns the inbound event stream. The channel is closed when the
	// session ends; call Err afterwards to learn why.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended
	// through Close.
	Err() error

	// Close terminates the session and closes the Events channel.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any remote translation backend.
type Provider interface {
	// Connect establishes a new session. The returned SessionHandle is ready
	// to accept audio immediately. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}
