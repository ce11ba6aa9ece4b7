package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/transrouter/internal/segment"
)

// Default restart parameters.
const (
	defaultMaxRestarts = 10
	defaultBackoff     = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	// NewSession builds a fresh session for every attempt. Required.
	NewSession func() *Session

	// MaxRestarts is the number of consecutive restarts allowed before the
	// supervisor gives up. Defaults to 10 if zero.
	MaxRestarts int

	// Backoff is the initial delay before a restart. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the restart delay. A session that
	// stays up longer than this resets the restart budget. Defaults to 30s if
	// zero.
	MaxBackoff time.Duration

	// OnStart is called with each new session before it runs. May be nil.
	OnStart func(*Session)
}

// Supervisor runs sessions one after another, restarting after recoverable
// failures with exponential backoff.
//
// All methods are safe for concurrent use.
type Supervisor struct {
	newSession  func() *Session
	maxRestarts int
	backoff     time.Duration
	maxBackoff  time.Duration
	onStart     func(*Session)

	restarts  atomic.Int64
	threshold atomic.Uint64 // math.Float64bits; 0 means unset

	mu      sync.Mutex
	current *Session
}

// NewSupervisor creates a new [Supervisor] with the given configuration.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	maxRestarts := cfg.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = defaultMaxRestarts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Supervisor{
		newSession:  cfg.NewSession,
		maxRestarts: maxRestarts,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		onStart:     cfg.OnStart,
	}
}

// Run blocks until ctx is cancelled, a fatal error occurs, or the restart
// budget is exhausted. Cancellation returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	currentBackoff := s.backoff
	failures := 0

	for {
		sess := s.newSession()
		if t := s.threshold.Load(); t != 0 {
			_ = sess.SetThreshold(math.Float64frombits(t))
		}
		s.setCurrent(sess)
		if s.onStart != nil {
			s.onStart(sess)
		}

		started := time.Now()
		err := sess.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) {
			slog.Error("session failed", "session_id", sess.ID(), "err", err)
			return err
		}

		if time.Since(started) > s.maxBackoff {
			failures = 0
			currentBackoff = s.backoff
		}
		failures++
		if failures > s.maxRestarts {
			slog.Error("session restarts exhausted",
				"session_id", sess.ID(),
				"max_restarts", s.maxRestarts,
				"err", err,
			)
			return fmt.Errorf("session: giving up after %d restarts: %w", s.maxRestarts, err)
		}

		slog.Warn("session failed, restarting",
			"session_id", sess.ID(),
			"attempt", failures,
			"max_restarts", s.maxRestarts,
			"backoff", currentBackoff,
			"err", err,
		)
		s.restarts.Add(1)
		sess.cfg.Metrics.SessionRestarts.Add(ctx, 1)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > s.maxBackoff {
			currentBackoff = s.maxBackoff
		}
	}
}

func (s *Supervisor) setCurrent(sess *Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

// Current returns the most recently started session, or nil before the
// first one.
func (s *Supervisor) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Restarts returns the number of restarts performed so far.
func (s *Supervisor) Restarts() int64 { return s.restarts.Load() }

// Ready reports whether a session is currently running.
func (s *Supervisor) Ready() bool {
	cur := s.Current()
	return cur != nil && cur.Running()
}

// SetThreshold changes the VAD threshold of the current session and of every
// session started later. Values outside (0, 1) are rejected.
func (s *Supervisor) SetThreshold(t float64) error {
	if !segment.ValidThreshold(t) {
		return fmt.Errorf("session: %w: got %v", segment.ErrInvalidThreshold, t)
	}
	s.threshold.Store(math.Float64bits(t))
	if cur := s.Current(); cur != nil {
		return cur.SetThreshold(t)
	}
	return nil
}
