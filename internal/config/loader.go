package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/transrouter/pkg/audio"
)

// Reference defaults applied by [ApplyDefaults].
const (
	DefaultLogDir            = "logs"
	DefaultRecordingsDir     = "recordings"
	DefaultSynthesisDir      = "synthesis"
	DefaultThreshold         = 0.5
	DefaultMinSpeech         = 250 * time.Millisecond
	DefaultSilence           = 500 * time.Millisecond
	DefaultQueueCapacity     = 50
	DefaultSendTimeout       = 100 * time.Millisecond
	DefaultMaxRestarts       = 10
	DefaultRestartBackoff    = time.Second
	DefaultMaxRestartBackoff = 30 * time.Second

	DefaultS2S     = "gemini-live"
	DefaultVAD     = "silero"
	DefaultCapture = "malgo"
	DefaultOutput  = "portaudio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":     {"gemini-live", "gemini-genai", "openai-realtime"},
	"vad":     {"silero", "energy"},
	"tts":     {"elevenlabs"},
	"capture": {"malgo"},
	"output":  {"portaudio"},
}

// apiKeyEnv names the environment variable consulted when a provider entry
// has no api_key.
var apiKeyEnv = map[string]string{
	"gemini-live":     "GEMINI_API_KEY",
	"gemini-genai":    "GEMINI_API_KEY",
	"openai-realtime": "OPENAI_API_KEY",
	"elevenlabs":      "ELEVENLABS_API_KEY",
}

// LoadEnv loads KEY=value pairs from the given .env files into the process
// environment, overriding variables that are already set. Missing files are
// skipped. With no paths, ".env" in the working directory is used.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Overload(p); err != nil {
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, resolves
// secrets from the environment and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ResolveSecrets(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its reference value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogDir == "" {
		cfg.Server.LogDir = DefaultLogDir
	}

	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = DefaultS2S
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = DefaultVAD
	}
	if cfg.Providers.Capture.Name == "" {
		cfg.Providers.Capture.Name = DefaultCapture
	}
	if cfg.Providers.Output.Name == "" {
		cfg.Providers.Output.Name = DefaultOutput
	}

	defaultStream(&cfg.Audio.Capture, audio.CaptureSampleRate, audio.CaptureBlockSize)
	defaultStream(&cfg.Audio.Playback, audio.PlaybackSampleRate, audio.PlaybackBlockSize)

	if cfg.Segmenter.Threshold == 0 {
		cfg.Segmenter.Threshold = DefaultThreshold
	}
	if cfg.Segmenter.MinSpeech == 0 {
		cfg.Segmenter.MinSpeech = DefaultMinSpeech
	}
	if cfg.Segmenter.Silence == 0 {
		cfg.Segmenter.Silence = DefaultSilence
	}

	if cfg.Dispatch.Capacity == 0 {
		cfg.Dispatch.Capacity = DefaultQueueCapacity
	}
	if cfg.Dispatch.SendTimeout == 0 {
		cfg.Dispatch.SendTimeout = DefaultSendTimeout
	}

	if cfg.Remote.ResponseModality == "" {
		cfg.Remote.ResponseModality = ModalityAudio
	}

	if cfg.Archive.RecordingsDir == "" {
		cfg.Archive.RecordingsDir = DefaultRecordingsDir
	}
	if cfg.Archive.SynthesisDir == "" {
		cfg.Archive.SynthesisDir = DefaultSynthesisDir
	}

	if cfg.Session.MaxRestarts == 0 {
		cfg.Session.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.Session.RestartBackoff == 0 {
		cfg.Session.RestartBackoff = DefaultRestartBackoff
	}
	if cfg.Session.MaxRestartBackoff == 0 {
		cfg.Session.MaxRestartBackoff = DefaultMaxRestartBackoff
	}
}

func defaultStream(s *StreamConfig, rate, block int) {
	if s.SampleRate == 0 {
		s.SampleRate = rate
	}
	if s.BlockSize == 0 {
		s.BlockSize = block
	}
}

// ResolveSecrets expands ${VAR} references in API keys and base URLs and
// falls back to the provider's conventional environment variable when no key
// is configured.
func ResolveSecrets(cfg *Config) {
	entries := []*ProviderEntry{&cfg.Providers.S2S, &cfg.Providers.TTS}
	for i := range cfg.Providers.S2SFallbacks {
		entries = append(entries, &cfg.Providers.S2SFallbacks[i])
	}
	for _, e := range entries {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
		if e.APIKey == "" {
			if env, ok := apiKeyEnv[e.Name]; ok {
				e.APIKey = os.Getenv(env)
			}
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Unknown provider names only warn.
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	for _, fb := range cfg.Providers.S2SFallbacks {
		validateProviderName("s2s", fb.Name)
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("output", cfg.Providers.Output.Name)

	if cfg.Providers.S2S.Name == "" {
		errs = append(errs, errors.New("providers.s2s.name is required"))
	}
	for i, fb := range cfg.Providers.S2SFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.s2s_fallbacks[%d].name is required", i))
		}
	}
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad.name is required"))
	}

	// Streams
	errs = append(errs, validateStream("audio.capture", cfg.Audio.Capture)...)
	errs = append(errs, validateStream("audio.playback", cfg.Audio.Playback)...)

	// Segmenter
	if t := cfg.Segmenter.Threshold; !(t > 0 && t < 1) {
		errs = append(errs, fmt.Errorf("segmenter.threshold %.2f is out of range (0, 1)", t))
	}
	if cfg.Segmenter.MinSpeech < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_speech %s must not be negative", cfg.Segmenter.MinSpeech))
	}
	if cfg.Segmenter.Silence < 0 {
		errs = append(errs, fmt.Errorf("segmenter.silence %s must not be negative", cfg.Segmenter.Silence))
	}
	if frame := audio.SamplesDuration(cfg.Audio.Capture.BlockSize, cfg.Audio.Capture.SampleRate); frame > 0 && cfg.Segmenter.Silence > 0 && cfg.Segmenter.Silence < frame {
		slog.Warn("segmenter.silence is shorter than one capture block; every silent block ends an utterance",
			"silence", cfg.Segmenter.Silence,
			"block", frame,
		)
	}

	// Dispatch
	if cfg.Dispatch.Capacity < 0 {
		errs = append(errs, fmt.Errorf("dispatch.capacity %d must not be negative", cfg.Dispatch.Capacity))
	}
	if cfg.Dispatch.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.send_timeout %s must not be negative", cfg.Dispatch.SendTimeout))
	}

	// Remote ↔ TTS cross-validation
	if m := cfg.Remote.ResponseModality; m != "" && !m.IsValid() {
		errs = append(errs, fmt.Errorf("remote.response_modality %q is invalid; valid values: audio, text", m))
	}
	if cfg.Remote.ResponseModality == ModalityText && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("remote.response_modality text requires a TTS provider but providers.tts is not configured"))
	}
	if cfg.Remote.ResponseModality == ModalityAudio && cfg.Providers.TTS.Name != "" {
		slog.Warn("providers.tts is configured but remote.response_modality is audio; TTS will not be used")
	}

	// Secrets
	if _, ok := apiKeyEnv[cfg.Providers.S2S.Name]; ok && cfg.Providers.S2S.APIKey == "" {
		slog.Warn("providers.s2s has no api_key and the environment provides none",
			"provider", cfg.Providers.S2S.Name,
			"env", apiKeyEnv[cfg.Providers.S2S.Name],
		)
	}

	// Session
	if cfg.Session.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("session.max_restarts %d must not be negative", cfg.Session.MaxRestarts))
	}
	if cfg.Session.RestartBackoff > 0 && cfg.Session.MaxRestartBackoff > 0 && cfg.Session.RestartBackoff > cfg.Session.MaxRestartBackoff {
		errs = append(errs, fmt.Errorf("session.restart_backoff %s exceeds session.max_restart_backoff %s",
			cfg.Session.RestartBackoff, cfg.Session.MaxRestartBackoff))
	}

	return errors.Join(errs...)
}

func validateStream(prefix string, s StreamConfig) []error {
	var errs []error
	if s.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("%s.sample_rate %d must not be negative", prefix, s.SampleRate))
	}
	if s.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("%s.block_size %d must not be negative", prefix, s.BlockSize))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
