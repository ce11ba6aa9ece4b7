package main

import (
	"log/slog"

	"github.com/MrWong99/transrouter/internal/config"
	"github.com/MrWong99/transrouter/pkg/audio"
	"github.com/MrWong99/transrouter/pkg/audio/device"
	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	geminilive "github.com/MrWong99/transrouter/pkg/provider/s2s/gemini"
	geminisdk "github.com/MrWong99/transrouter/pkg/provider/s2s/genai"
	oais2s "github.com/MrWong99/transrouter/pkg/provider/s2s/openai"
	"github.com/MrWong99/transrouter/pkg/provider/tts"
	"github.com/MrWong99/transrouter/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/transrouter/pkg/provider/vad"
	"github.com/MrWong99/transrouter/pkg/provider/vad/energy"
	"github.com/MrWong99/transrouter/pkg/provider/vad/silero"
)

// registerBuiltinProviders wires every backend that ships with transrouter
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("gemini-genai", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminisdk.Option
		if entry.Model != "" {
			opts = append(opts, geminisdk.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminisdk.WithBaseURL(entry.BaseURL))
		}
		if v := entry.StringOption("api_version", ""); v != "" {
			opts = append(opts, geminisdk.WithAPIVersion(v))
		}
		return geminisdk.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Oracle, error) {
		if !silero.Available() {
			slog.Warn("silero backend not compiled in, using energy VAD instead (build with -tags silero)")
			return energy.New(), nil
		}
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path", "")
		}
		o, err := silero.New(modelPath, entry.StringOption("lib_path", ""))
		if err != nil {
			return nil, err
		}
		return o, nil
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Oracle, error) {
		return energy.New(energy.WithCeiling(entry.FloatOption("ceiling", 0))), nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if f := entry.StringOption("output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if v := entry.StringOption("voice_id", ""); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Devices ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("malgo", func(_ config.ProviderEntry, dc audio.DeviceConfig) (audio.CaptureDevice, error) {
		return device.NewCapture(dc)
	})

	reg.RegisterOutput("portaudio", func(_ config.ProviderEntry, dc audio.DeviceConfig) (audio.OutputDevice, error) {
		return device.OpenOutput(dc)
	})

	for _, kind := range []string{"s2s", "vad", "tts", "capture", "output"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}
