package resilience

import (
	"context"
	"sync"

	"github.com/MrWong99/transrouter/pkg/provider/s2s"
)

// Compile-time interface assertion.
var _ s2s.Provider = (*S2SFailover)(nil)

// S2SFailover is an [s2s.Provider] that connects to the first healthy
// backend of an ordered list. Only Connect fails over; a session that drops
// later is handled by the caller, whose next Connect goes through the
// breakers again.
type S2SFailover struct {
	group *Group[s2s.Provider]

	mu         sync.Mutex
	active     s2s.Provider
	activeName string
}

// NewS2SFailover returns a failover with primary as its first backend.
func NewS2SFailover(primaryName string, primary s2s.Provider, cfg BreakerConfig) *S2SFailover {
	f := &S2SFailover{group: NewGroup[s2s.Provider](cfg)}
	f.group.Add(primaryName, primary)
	f.active, f.activeName = primary, primaryName
	return f
}

// AddFallback appends a backend tried after all earlier ones.
func (f *S2SFailover) AddFallback(name string, p s2s.Provider) {
	f.group.Add(name, p)
}

// Connect implements [s2s.Provider].
func (f *S2SFailover) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	return Try(ctx, f.group, func(name string, p s2s.Provider) (s2s.SessionHandle, error) {
		h, err := p.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.active, f.activeName = p, name
		f.mu.Unlock()
		return h, nil
	})
}

// Capabilities reports the backend of the most recent successful Connect,
// or the primary before the first one.
func (f *S2SFailover) Capabilities() s2s.Capabilities {
	f.mu.Lock()
	p := f.active
	f.mu.Unlock()
	return p.Capabilities()
}

// Active returns the name of the backend that served the last Connect.
func (f *S2SFailover) Active() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeName
}

// Breakers returns the breaker state of every backend.
func (f *S2SFailover) Breakers() map[string]State {
	return f.group.States()
}
