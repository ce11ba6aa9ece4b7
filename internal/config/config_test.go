package config_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/transrouter/internal/config"
	"github.com/MrWong99/transrouter/pkg/audio"
	audiomock "github.com/MrWong99/transrouter/pkg/audio/mock"
	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	s2smock "github.com/MrWong99/transrouter/pkg/provider/s2s/mock"
	"github.com/MrWong99/transrouter/pkg/provider/tts"
	ttsmock "github.com/MrWong99/transrouter/pkg/provider/tts/mock"
	"github.com/MrWong99/transrouter/pkg/provider/vad"
	vadmock "github.com/MrWong99/transrouter/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_dir: /var/log/transrouter

providers:
  s2s:
    name: openai-realtime
    api_key: sk-test
    model: gpt-4o-realtime-preview
  vad:
    name: energy
    options:
      ceiling: 0.05
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      voice_id: voice-1
      output_format: pcm_24000
  capture:
    name: malgo
  output:
    name: portaudio

audio:
  capture:
    device: "USB Microphone"
    sample_rate: 16000
    block_size: 1600
  playback:
    sample_rate: 24000
    block_size: 2400

segmenter:
  threshold: 0.6
  min_speech: 300ms
  silence: 700ms

dispatch:
  capacity: 20
  send_timeout: 250ms

remote:
  instructions: Translate Chinese speech into English.
  response_modality: text
  synthesis_voice: voice-1

archive:
  recordings_dir: rec
  synthesis_dir: syn

session:
  max_restarts: 3
  restart_backoff: 2s
  max_restart_backoff: 10s
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── LoadFromReader ───────────────────────────────────────────────────────────

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.S2S.Name != "openai-realtime" || cfg.Providers.S2S.APIKey != "sk-test" {
		t.Errorf("providers.s2s = %+v", cfg.Providers.S2S)
	}
	if got := cfg.Providers.VAD.FloatOption("ceiling", 0); got != 0.05 {
		t.Errorf("vad ceiling = %v; want 0.05", got)
	}
	if got := cfg.Providers.TTS.StringOption("voice_id", ""); got != "voice-1" {
		t.Errorf("tts voice_id = %q", got)
	}
	if cfg.Audio.Capture.Device != "USB Microphone" {
		t.Errorf("capture device = %q", cfg.Audio.Capture.Device)
	}
	if cfg.Segmenter.Threshold != 0.6 || cfg.Segmenter.MinSpeech != 300*time.Millisecond || cfg.Segmenter.Silence != 700*time.Millisecond {
		t.Errorf("segmenter = %+v", cfg.Segmenter)
	}
	if cfg.Dispatch.Capacity != 20 || cfg.Dispatch.SendTimeout != 250*time.Millisecond {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Remote.ResponseModality != config.ModalityText || cfg.Remote.SynthesisVoice != "voice-1" {
		t.Errorf("remote = %+v", cfg.Remote)
	}
	if cfg.Session.MaxRestarts != 3 || cfg.Session.RestartBackoff != 2*time.Second {
		t.Errorf("session = %+v", cfg.Session)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Providers.S2S.Name != config.DefaultS2S || cfg.Providers.VAD.Name != config.DefaultVAD {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Audio.Capture.SampleRate != 16000 || cfg.Audio.Capture.BlockSize != 1600 {
		t.Errorf("capture = %+v; want 16 kHz / 1600", cfg.Audio.Capture)
	}
	if cfg.Audio.Playback.SampleRate != 24000 || cfg.Audio.Playback.BlockSize != 2400 {
		t.Errorf("playback = %+v; want 24 kHz / 2400", cfg.Audio.Playback)
	}
	if cfg.Segmenter.Threshold != 0.5 || cfg.Segmenter.MinSpeech != 250*time.Millisecond || cfg.Segmenter.Silence != 500*time.Millisecond {
		t.Errorf("segmenter = %+v", cfg.Segmenter)
	}
	if cfg.Dispatch.Capacity != 50 || cfg.Dispatch.SendTimeout != 100*time.Millisecond {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Archive.RecordingsDir != "recordings" || cfg.Archive.SynthesisDir != "synthesis" || cfg.Server.LogDir != "logs" {
		t.Errorf("dirs = %+v / %q", cfg.Archive, cfg.Server.LogDir)
	}
	if cfg.Remote.ResponseModality != config.ModalityAudio {
		t.Errorf("response_modality = %q; want audio", cfg.Remote.ResponseModality)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("segmenter:\n  treshold: 0.4\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateAndNames(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterS2S("mock", func(e config.ProviderEntry) (s2s.Provider, error) {
		gotEntry = e
		return &s2smock.Provider{}, nil
	})
	reg.RegisterVAD("mock", func(config.ProviderEntry) (vad.Oracle, error) { return &vadmock.Oracle{}, nil })
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Synthesizer, error) { return &ttsmock.Synthesizer{}, nil })

	var gotDevice audio.DeviceConfig
	reg.RegisterCapture("mock", func(_ config.ProviderEntry, dc audio.DeviceConfig) (audio.CaptureDevice, error) {
		gotDevice = dc
		return &audiomock.Capture{}, nil
	})
	reg.RegisterOutput("mock", func(config.ProviderEntry, audio.DeviceConfig) (audio.OutputDevice, error) {
		return &audiomock.Output{}, nil
	})
	reg.RegisterOutput("alt", func(config.ProviderEntry, audio.DeviceConfig) (audio.OutputDevice, error) {
		return &audiomock.Output{}, nil
	})

	if _, err := reg.CreateS2S(config.ProviderEntry{Name: "mock", Model: "m"}); err != nil {
		t.Fatalf("CreateS2S: %v", err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory got entry %+v", gotEntry)
	}
	if _, err := reg.CreateVAD(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	stream := config.StreamConfig{Device: "mic", SampleRate: 16000, BlockSize: 1600}
	if _, err := reg.CreateCapture(config.ProviderEntry{Name: "mock"}, stream.DeviceConfig()); err != nil {
		t.Errorf("CreateCapture: %v", err)
	}
	if gotDevice.Device != "mic" || gotDevice.SampleRate != 16000 || gotDevice.BlockSize != 1600 {
		t.Errorf("device config = %+v", gotDevice)
	}
	if _, err := reg.CreateOutput(config.ProviderEntry{Name: "alt"}, audio.DeviceConfig{}); err != nil {
		t.Errorf("CreateOutput: %v", err)
	}

	if got := reg.Names("output"); len(got) != 2 || got[0] != "alt" || got[1] != "mock" {
		t.Errorf("Names(output) = %v; want [alt mock]", got)
	}
	if got := reg.Names("bogus"); len(got) != 0 {
		t.Errorf("Names(bogus) = %v; want empty", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	checks := map[string]error{}
	_, checks["s2s"] = reg.CreateS2S(config.ProviderEntry{Name: "nope"})
	_, checks["vad"] = reg.CreateVAD(config.ProviderEntry{Name: "nope"})
	_, checks["tts"] = reg.CreateTTS(config.ProviderEntry{Name: "nope"})
	_, checks["capture"] = reg.CreateCapture(config.ProviderEntry{Name: "nope"}, audio.DeviceConfig{})
	_, checks["output"] = reg.CreateOutput(config.ProviderEntry{Name: "nope"}, audio.DeviceConfig{})

	for kind, err := range checks {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: err = %v; want ErrProviderNotRegistered", kind, err)
		}
		if !strings.Contains(err.Error(), kind+"/") {
			t.Errorf("%s: error %q does not name the kind", kind, err)
		}
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterS2S("bad", func(config.ProviderEntry) (s2s.Provider, error) { return nil, boom })

	if _, err := reg.CreateS2S(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("err = %v; want factory error", err)
	}
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	first := &s2smock.Provider{}
	second := &s2smock.Provider{}
	reg.RegisterS2S("p", func(config.ProviderEntry) (s2s.Provider, error) { return first, nil })
	reg.RegisterS2S("p", func(config.ProviderEntry) (s2s.Provider, error) { return second, nil })

	got, err := reg.CreateS2S(config.ProviderEntry{Name: "p"})
	if err != nil {
		t.Fatalf("CreateS2S: %v", err)
	}
	if got != s2s.Provider(second) {
		t.Error("second registration did not replace the first")
	}
	// The returned provider must be usable.
	if _, err := got.Connect(context.Background(), s2s.SessionConfig{}); err != nil {
		t.Errorf("Connect: %v", err)
	}
}

// ── Option helpers ───────────────────────────────────────────────────────────

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"s":     "value",
		"empty": "",
		"f":     0.25,
		"i":     3,
		"b":     true,
	}}

	if got := e.StringOption("s", "d"); got != "value" {
		t.Errorf("StringOption(s) = %q", got)
	}
	if got := e.StringOption("empty", "d"); got != "d" {
		t.Errorf("StringOption(empty) = %q; want default", got)
	}
	if got := e.StringOption("missing", "d"); got != "d" {
		t.Errorf("StringOption(missing) = %q; want default", got)
	}
	if got := e.FloatOption("f", 1); got != 0.25 {
		t.Errorf("FloatOption(f) = %v", got)
	}
	if got := e.FloatOption("i", 1); got != 3 {
		t.Errorf("FloatOption(i) = %v", got)
	}
	if got := e.FloatOption("b", 1); got != 1 {
		t.Errorf("FloatOption(b) = %v; want default for non-numeric", got)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.Level(); got != want {
			t.Errorf("LogLevel(%q).Level() = %v; want %v", in, got, want)
		}
	}
}
