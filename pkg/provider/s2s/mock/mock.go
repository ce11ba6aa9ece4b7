// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script the inbound event stream and inspect the audio the
// pipeline sent.
//
// Example:
//
//	sess := mock.NewSession(16)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(s2s.AudioEvent(pcm, 24000))
//	sess.Emit(s2s.TurnCompleteEvent())
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/transrouter/pkg/provider/s2s"
)

// ─── Provider ────────────────────────────────────────────────────────────────

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session from NewSession(64) on every call.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions records every session handed out by Connect.
	Sessions []s2s.SessionHandle
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	var h s2s.SessionHandle = p.Session
	if h == nil {
		h = NewSession(64)
	}
	p.Sessions = append(p.Sessions, h)
	return h, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ConnectCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastSession returns the most recent session handed out, or nil.
func (p *Provider) LastSession() s2s.SessionHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

var _ s2s.Provider = (*Provider)(nil)

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is a mock implementation of s2s.SessionHandle.
//
// Events are injected with Emit. Finish ends the stream with an error, as a
// failing remote service would; Close ends it cleanly.
type Session struct {
	events chan s2s.Event
	done   chan struct{}

	// emitMu guards events against a send racing with close.
	emitMu sync.RWMutex

	mu        sync.Mutex
	closed    bool
	err       error
	sent      [][]byte
	closeCall int

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// OnSend, if set, is called after each recorded SendAudio.
	OnSend func(chunk []byte)
}

// NewSession returns a Session whose event channel has the given buffer.
func NewSession(buffer int) *Session {
	return &Session{
		events: make(chan s2s.Event, buffer),
		done:   make(chan struct{}),
	}
}

// Emit delivers ev on the event stream. It blocks until the consumer takes
// the event or the session ends, and reports whether the event was delivered.
func (s *Session) Emit(ev s2s.Event) bool {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Finish ends the session with err, closing the event stream.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()
	s.shutdown()
}

func (s *Session) shutdown() {
	close(s.done)
	s.emitMu.Lock()
	close(s.events)
	s.emitMu.Unlock()
}

// SendAudio records a copy of chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s2s.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		err := s.SendAudioErr
		s.mu.Unlock()
		return err
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	hook := s.OnSend
	s.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return nil
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to Finish, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the event stream. Repeated calls are counted and return nil.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCall++
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.shutdown()
	return nil
}

// Sent returns copies of every chunk passed to SendAudio, in order.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// SendCount returns the number of recorded SendAudio calls.
func (s *Session) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// CloseCount returns the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCall
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ s2s.SessionHandle = (*Session)(nil)
