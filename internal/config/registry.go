package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/transrouter/pkg/audio"
	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	"github.com/MrWong99/transrouter/pkg/provider/tts"
	"github.com/MrWong99/transrouter/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory signatures per provider kind. Device factories also receive the
// stream parameters from [AudioConfig].
type (
	S2SFactory     func(ProviderEntry) (s2s.Provider, error)
	VADFactory     func(ProviderEntry) (vad.Oracle, error)
	TTSFactory     func(ProviderEntry) (tts.Synthesizer, error)
	CaptureFactory func(ProviderEntry, audio.DeviceConfig) (audio.CaptureDevice, error)
	OutputFactory  func(ProviderEntry, audio.DeviceConfig) (audio.OutputDevice, error)
)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	s2s     map[string]S2SFactory
	vad     map[string]VADFactory
	tts     map[string]TTSFactory
	capture map[string]CaptureFactory
	output  map[string]OutputFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:     make(map[string]S2SFactory),
		vad:     make(map[string]VADFactory),
		tts:     make(map[string]TTSFactory),
		capture: make(map[string]CaptureFactory),
		output:  make(map[string]OutputFactory),
	}
}

// RegisterS2S registers a remote translation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterS2S(name string, factory S2SFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s[name] = factory
}

// RegisterVAD registers a VAD oracle factory under name.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterCapture registers a capture device factory under name.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterOutput registers an output device factory under name.
func (r *Registry) RegisterOutput(name string, factory OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[name] = factory
}

// CreateS2S instantiates a remote translation provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.s2s[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: s2s/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD oracle using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Oracle, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesizer using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates a capture device using the factory registered
// under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry, dc audio.DeviceConfig) (audio.CaptureDevice, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, dc)
}

// CreateOutput instantiates an output device using the factory registered
// under entry.Name.
func (r *Registry) CreateOutput(entry ProviderEntry, dc audio.DeviceConfig) (audio.OutputDevice, error) {
	r.mu.RLock()
	factory, ok := r.output[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, dc)
}

// Names returns the registered provider names of kind ("s2s", "vad", "tts",
// "capture" or "output"), sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "s2s":
		for n := range r.s2s {
			names = append(names, n)
		}
	case "vad":
		for n := range r.vad {
			names = append(names, n)
		}
	case "tts":
		for n := range r.tts {
			names = append(names, n)
		}
	case "capture":
		for n := range r.capture {
			names = append(names, n)
		}
	case "output":
		for n := range r.output {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// DeviceConfig converts a stream block into device parameters.
func (s StreamConfig) DeviceConfig() audio.DeviceConfig {
	return audio.DeviceConfig{Device: s.Device, SampleRate: s.SampleRate, BlockSize: s.BlockSize}
}
