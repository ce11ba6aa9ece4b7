// Package app wires the translator subsystems into a running application.
//
// New validates the providers and builds the session supervisor, Run drives
// sessions until the context ends, and Shutdown releases what New acquired.
// Configuration changes reach a running App through ApplyConfig.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithPersister, WithMetrics, WithLevel). Unset options fall back to the
// implementations derived from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/transrouter/internal/archive"
	"github.com/MrWong99/transrouter/internal/config"
	"github.com/MrWong99/transrouter/internal/health"
	"github.com/MrWong99/transrouter/internal/observe"
	"github.com/MrWong99/transrouter/internal/resilience"
	"github.com/MrWong99/transrouter/internal/segment"
	"github.com/MrWong99/transrouter/internal/session"
	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	"github.com/MrWong99/transrouter/pkg/provider/tts"
	"github.com/MrWong99/transrouter/pkg/provider/vad"
)

// Providers holds the constructed backends for one process. Synthesizer is
// nil unless replies come back as text.
type Providers struct {
	Remote      s2s.Provider
	RemoteName  string
	Oracle      vad.Oracle
	Synthesizer tts.Synthesizer
	OpenCapture session.CaptureOpener
	OpenOutput  session.OutputOpener
}

// App owns the supervisor and the shared resources it runs sessions with.
type App struct {
	cfg       *config.Config
	providers *Providers

	persister archive.Persister
	metrics   *observe.Metrics
	level     *slog.LevelVar

	supervisor *session.Supervisor

	mu      sync.Mutex
	running bool

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithPersister replaces the WAV archive built from cfg.Archive.
func WithPersister(p archive.Persister) Option {
	return func(a *App) { a.persister = p }
}

// WithMetrics sets the metrics instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel hands the App the level variable of the process logger so that
// log level changes can be applied at runtime.
func WithLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New validates providers against cfg and builds the session supervisor. No
// device or network resource is opened until Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if err := providers.validate(cfg); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}
	if a.persister == nil {
		a.persister = archive.NewWAVWriter(cfg.Archive.RecordingsDir, cfg.Archive.SynthesisDir,
			archive.WithMetrics(a.metrics))
	}

	a.closers = append(a.closers, providers.Oracle.Close)

	a.supervisor = session.NewSupervisor(session.SupervisorConfig{
		NewSession:  a.newSession,
		MaxRestarts: cfg.Session.MaxRestarts,
		Backoff:     cfg.Session.RestartBackoff,
		MaxBackoff:  cfg.Session.MaxRestartBackoff,
		OnStart: func(s *session.Session) {
			slog.Info("session starting", "session_id", s.ID(), "threshold", s.Threshold())
		},
	})
	return a, nil
}

func (p *Providers) validate(cfg *config.Config) error {
	switch {
	case p == nil:
		return errors.New("providers are required")
	case p.Remote == nil:
		return errors.New("remote translation provider is required")
	case p.Oracle == nil:
		return errors.New("vad oracle is required")
	case p.OpenCapture == nil || p.OpenOutput == nil:
		return errors.New("capture and output devices are required")
	case cfg.Remote.ResponseModality == config.ModalityText && p.Synthesizer == nil:
		return errors.New("text replies require a synthesizer")
	}
	return nil
}

// newSession builds the session for one supervisor attempt from the
// current settings.
func (a *App) newSession() *session.Session {
	cfg := a.cfg
	return session.New(session.Config{
		Remote:     a.providers.Remote,
		RemoteName: a.providers.RemoteName,
		RemoteSession: s2s.SessionConfig{
			Instructions:     cfg.Remote.Instructions,
			Voice:            cfg.Remote.Voice,
			InputSampleRate:  cfg.Audio.Capture.SampleRate,
			ResponseModality: s2s.Modality(cfg.Remote.ResponseModality),
		},
		Synthesizer:      a.providers.Synthesizer,
		SynthesizerVoice: cfg.Remote.SynthesisVoice,
		Oracle:           a.providers.Oracle,
		Segment: segment.Config{
			SampleRate: cfg.Audio.Capture.SampleRate,
			Threshold:  cfg.Segmenter.Threshold,
			MinSpeech:  cfg.Segmenter.MinSpeech,
			Silence:    cfg.Segmenter.Silence,
		},
		FrameSize:     cfg.Audio.Capture.BlockSize,
		QueueCapacity: cfg.Dispatch.Capacity,
		SendTimeout:   cfg.Dispatch.SendTimeout,
		OpenCapture:   a.providers.OpenCapture,
		OpenOutput:    a.providers.OpenOutput,
		Persister:     a.persister,
		Metrics:       a.metrics,
	})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives translation sessions until ctx is cancelled or the supervisor
// gives up. Cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("app: already running")
	}
	a.running = true
	a.mu.Unlock()

	slog.Info("translator running",
		"remote", a.providers.RemoteName,
		"modality", a.cfg.Remote.ResponseModality,
		"queue_capacity", a.cfg.Dispatch.Capacity,
	)
	if err := a.supervisor.Run(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Ready reports whether a session is currently running.
func (a *App) Ready() bool { return a.supervisor.Ready() }

// Status is the JSON document served on /statusz.
type Status struct {
	Ready     bool            `json:"ready"`
	Restarts  int64           `json:"restarts"`
	Threshold float64         `json:"threshold"`
	Session   *session.Status `json:"session,omitempty"`

	// Backend and Breakers are set when s2s fallbacks are configured.
	Backend  string            `json:"backend,omitempty"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

// Status returns a snapshot of the supervisor and the current session.
func (a *App) Status() Status {
	st := Status{
		Ready:     a.supervisor.Ready(),
		Restarts:  a.supervisor.Restarts(),
		Threshold: a.cfg.Segmenter.Threshold,
	}
	if cur := a.supervisor.Current(); cur != nil {
		ss := cur.Status()
		st.Session = &ss
		st.Threshold = cur.Threshold()
	}
	if f, ok := a.providers.Remote.(*resilience.S2SFailover); ok {
		st.Backend = f.Active()
		st.Breakers = make(map[string]string)
		for name, state := range f.Breakers() {
			st.Breakers[name] = state.String()
		}
	}
	return st
}

// SessionID returns the id of the current session, or "" between sessions.
func (a *App) SessionID() string {
	if cur := a.supervisor.Current(); cur != nil {
		return cur.ID()
	}
	return ""
}

// HealthCheckers returns the readiness checks for this App.
func (a *App) HealthCheckers() []health.Checker {
	return []health.Checker{{
		Name: "session",
		Check: func(context.Context) error {
			if !a.supervisor.Ready() {
				return errors.New("no running session")
			}
			return nil
		},
	}}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change: the log
// level and the VAD threshold. Other changes are logged and take effect on
// the next start.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		if err := a.supervisor.SetThreshold(d.NewThreshold); err != nil {
			slog.Error("vad threshold not applied", "threshold", d.NewThreshold, "err", err)
		} else {
			slog.Info("vad threshold changed", "threshold", d.NewThreshold)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases shared provider resources. Call it after Run has
// returned. If ctx expires first, the remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
