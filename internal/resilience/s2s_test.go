package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	s2smock "github.com/MrWong99/transrouter/pkg/provider/s2s/mock"
)

func TestS2SFailover_UsesPrimary(t *testing.T) {
	primary := &s2smock.Provider{ProviderCapabilities: s2s.Capabilities{OutputSampleRate: 24000}}
	backup := &s2smock.Provider{ProviderCapabilities: s2s.Capabilities{OutputSampleRate: 16000}}

	f := NewS2SFailover("gemini-live", primary, BreakerConfig{})
	f.AddFallback("openai-realtime", backup)

	h, err := f.Connect(context.Background(), s2s.SessionConfig{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	if primary.ConnectCount() != 1 || backup.ConnectCount() != 0 {
		t.Errorf("connects primary=%d backup=%d", primary.ConnectCount(), backup.ConnectCount())
	}
	if f.Active() != "gemini-live" || f.Capabilities().OutputSampleRate != 24000 {
		t.Errorf("active = %q rate = %d", f.Active(), f.Capabilities().OutputSampleRate)
	}
}

func TestS2SFailover_FallsBackAndReportsBackend(t *testing.T) {
	primary := &s2smock.Provider{ConnectErr: errors.New("quota exceeded")}
	backup := &s2smock.Provider{ProviderCapabilities: s2s.Capabilities{OutputSampleRate: 16000}}

	f := NewS2SFailover("gemini-live", primary, BreakerConfig{MaxFailures: 1})
	f.AddFallback("openai-realtime", backup)

	h, err := f.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer h.Close()

	if f.Active() != "openai-realtime" {
		t.Errorf("active = %q, want openai-realtime", f.Active())
	}
	if got := f.Capabilities().OutputSampleRate; got != 16000 {
		t.Errorf("OutputSampleRate = %d, want backup's 16000", got)
	}
	if f.Breakers()["gemini-live"] != StateOpen {
		t.Errorf("breakers = %v, want primary open", f.Breakers())
	}

	// The open primary is skipped on the next attempt.
	if _, err := f.Connect(context.Background(), s2s.SessionConfig{}); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if primary.ConnectCount() != 1 {
		t.Errorf("primary connects = %d, want 1", primary.ConnectCount())
	}
}

func TestS2SFailover_AllFail(t *testing.T) {
	f := NewS2SFailover("a", &s2smock.Provider{ConnectErr: errors.New("down")}, BreakerConfig{})
	f.AddFallback("b", &s2smock.Provider{ConnectErr: errors.New("also down")})

	_, err := f.Connect(context.Background(), s2s.SessionConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if f.Active() != "a" {
		t.Errorf("active = %q, want primary before any success", f.Active())
	}
}
