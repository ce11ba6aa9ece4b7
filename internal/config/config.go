// Package config provides the configuration schema, loader, and provider registry
// for the transrouter translation pipeline.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the transrouter process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Modality selects the form of the remote service's reply.
type Modality string

const (
	// ModalityAudio asks the service for synthesized speech.
	ModalityAudio Modality = "audio"

	// ModalityText asks the service for text, which is rendered by the
	// configured TTS provider.
	ModalityText Modality = "text"
)

// IsValid reports whether m is a recognised modality.
func (m Modality) IsValid() bool {
	return m == ModalityAudio || m == ModalityText
}

// Config is the root configuration structure for transrouter.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Remote    RemoteConfig    `yaml:"remote"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Session   SessionConfig   `yaml:"session"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /metrics and the health endpoints
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogDir receives one translator_<timestamp>.log file per run.
	// Default: "logs".
	LogDir string `yaml:"log_dir"`
}

// ProvidersConfig declares which implementation to use for each external
// collaborator. Each field selects a named factory registered in the [Registry].
type ProvidersConfig struct {
	S2S ProviderEntry `yaml:"s2s"`

	// S2SFallbacks are tried in order when S2S cannot be connected to.
	S2SFallbacks []ProviderEntry `yaml:"s2s_fallbacks"`

	VAD     ProviderEntry `yaml:"vad"`
	TTS     ProviderEntry `yaml:"tts"`
	Capture ProviderEntry `yaml:"capture"`
	Output  ProviderEntry `yaml:"output"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${VAR} references are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] as a string, or def when unset.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// FloatOption returns Options[key] as a float64, or def when unset or not a
// number.
func (e ProviderEntry) FloatOption(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// AudioConfig selects and parameterises the hardware streams.
type AudioConfig struct {
	Capture  StreamConfig `yaml:"capture"`
	Playback StreamConfig `yaml:"playback"`
}

// StreamConfig describes one hardware stream.
type StreamConfig struct {
	// Device is the device name. Empty selects the host default.
	Device string `yaml:"device"`

	// SampleRate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of samples per hardware buffer.
	BlockSize int `yaml:"block_size"`
}

// SegmenterConfig tunes voice activity segmentation.
type SegmenterConfig struct {
	// Threshold is the speech probability cut-off in (0, 1). Hot-reloadable.
	Threshold float64 `yaml:"threshold"`

	// MinSpeech is the shortest utterance forwarded to the remote service.
	MinSpeech time.Duration `yaml:"min_speech"`

	// Silence is the pause length that ends an utterance.
	Silence time.Duration `yaml:"silence"`
}

// DispatchConfig tunes the backpressure queue.
type DispatchConfig struct {
	Capacity    int           `yaml:"capacity"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// RemoteConfig describes the translation session requested from the s2s
// provider.
type RemoteConfig struct {
	// Instructions is the system instruction sent when the session opens.
	Instructions string `yaml:"instructions"`

	// Voice selects the service's output voice. Empty uses its default.
	Voice string `yaml:"voice"`

	// ResponseModality is "audio" (default) or "text". Text replies require
	// providers.tts.
	ResponseModality Modality `yaml:"response_modality"`

	// SynthesisVoice is the TTS voice used for text replies.
	SynthesisVoice string `yaml:"synthesis_voice"`
}

// ArchiveConfig selects where audio archives are written.
type ArchiveConfig struct {
	RecordingsDir string `yaml:"recordings_dir"`
	SynthesisDir  string `yaml:"synthesis_dir"`
}

// SessionConfig controls restarts after recoverable failures.
type SessionConfig struct {
	MaxRestarts       int           `yaml:"max_restarts"`
	RestartBackoff    time.Duration `yaml:"restart_backoff"`
	MaxRestartBackoff time.Duration `yaml:"max_restart_backoff"`
}
