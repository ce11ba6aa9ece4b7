// Package genai implements the s2s.Provider interface on top of the Google Gen
// AI SDK's Live API.
//
// It speaks the same BidiGenerateContent protocol as package gemini but lets
// the SDK own the transport, authentication and message types. Choose it when
// the SDK's Vertex AI backend or its newer protocol revisions are needed.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	sdk "google.golang.org/genai"
)

var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel      = "models/gemini-2.0-flash-exp"
	defaultAPIVersion = "v1alpha"
	outputSampleRate  = 24000
)

// liveConn is the subset of *sdk.Session the adapter needs.
type liveConn interface {
	SendRealtimeInput(input sdk.LiveRealtimeInput) error
	Receive() (*sdk.LiveServerMessage, error)
	Close() error
}

// dialFunc opens a Live connection. Tests replace it to avoid the network.
type dialFunc func(ctx context.Context, model string, cfg *sdk.LiveConnectConfig) (liveConn, error)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Live model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithAPIVersion overrides the API version (default v1alpha).
func WithAPIVersion(v string) Option {
	return func(p *Provider) { p.apiVersion = v }
}

// WithBaseURL overrides the SDK's base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements s2s.Provider via the Gen AI SDK.
type Provider struct {
	apiKey     string
	model      string
	apiVersion string
	baseURL    string

	mu     sync.Mutex
	client *sdk.Client
	dial   dialFunc
}

// New creates a Provider. The SDK client is created lazily on the first Connect.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		apiVersion: defaultAPIVersion,
	}
	for _, o := range opts {
		o(p)
	}
	p.dial = p.sdkDial
	return p
}

// Capabilities returns static metadata about the Live API.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		OutputSampleRate:     outputSampleRate,
		MaxSessionDurationMs: 15 * 60 * 1000,
		Modalities:           []s2s.Modality{s2s.ModalityAudio, s2s.ModalityText},
		Voices:               []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

func (p *Provider) sdkDial(ctx context.Context, model string, cfg *sdk.LiveConnectConfig) (liveConn, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil {
		c, err := sdk.NewClient(ctx, &sdk.ClientConfig{
			APIKey:  p.apiKey,
			Backend: sdk.BackendGeminiAPI,
			HTTPOptions: sdk.HTTPOptions{
				APIVersion: p.apiVersion,
				BaseURL:    p.baseURL,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("new client: %w", err)
		}
		p.mu.Lock()
		if p.client == nil {
			p.client = c
		}
		client = p.client
		p.mu.Unlock()
	}

	sess, err := client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Connect opens a Live session configured from cfg.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	cfg = cfg.WithDefaults()
	conn, err := p.dial(ctx, p.model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	s := &session{
		conn:   conn,
		cfg:    cfg,
		events: make(chan s2s.Event, 64),
		done:   make(chan struct{}),
	}
	go s.receiveLoop()

	slog.Debug("genai: session opened", "session_id", cfg.SessionID, "model", p.model)
	return s, nil
}

func connectConfig(cfg s2s.SessionConfig) *sdk.LiveConnectConfig {
	lc := &sdk.LiveConnectConfig{
		ResponseModalities: []sdk.Modality{sdk.ModalityAudio},
	}
	if cfg.ResponseModality == s2s.ModalityText {
		lc.ResponseModalities = []sdk.Modality{sdk.ModalityText}
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &sdk.Content{Parts: []*sdk.Part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" && cfg.ResponseModality != s2s.ModalityText {
		lc.SpeechConfig = &sdk.SpeechConfig{
			VoiceConfig: &sdk.VoiceConfig{
				PrebuiltVoiceConfig: &sdk.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	return lc
}

type session struct {
	conn   liveConn
	cfg    s2s.SessionConfig
	events chan s2s.Event
	done   chan struct{}

	sendMu sync.Mutex

	mu     sync.Mutex
	closed bool
	errVal error
}

func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.setErr(fmt.Errorf("genai: receive: %w", err))
			return
		}
		if msg == nil {
			continue
		}
		if msg.GoAway != nil {
			slog.Warn("genai: server is closing the session", "session_id", s.cfg.SessionID)
		}
		if sc := msg.ServerContent; sc != nil {
			if !s.handleServerContent(sc) {
				return
			}
		}
	}
}

func (s *session) handleServerContent(sc *sdk.LiveServerContent) bool {
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				if !s.emit(s2s.AudioEvent(part.InlineData.Data, mimeRate(part.InlineData.MIMEType))) {
					return false
				}
			}
			if part.Text != "" {
				if !s.emit(s2s.TranscriptEvent(part.Text)) {
					return false
				}
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !s.emit(s2s.TranscriptEvent(sc.OutputTranscription.Text)) {
			return false
		}
	}
	if sc.TurnComplete {
		return s.emit(s2s.TurnCompleteEvent())
	}
	return true
}

func (s *session) emit(ev s2s.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func mimeRate(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && k == "rate" {
			n, _ := strconv.Atoi(v)
			return n
		}
	}
	return 0
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// SendAudio forwards one PCM chunk as realtime audio input.
func (s *session) SendAudio(chunk []byte) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.conn.SendRealtimeInput(sdk.LiveRealtimeInput{
		Audio: &sdk.Blob{Data: chunk, MIMEType: s.cfg.InputMIMEType()},
	})
	if err != nil {
		return fmt.Errorf("genai: send audio: %w", err)
	}
	return nil
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the receive error that ended the session, if any.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close ends the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.conn.Close(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("genai: close", "session_id", s.cfg.SessionID, "err", err)
	}
	return nil
}
