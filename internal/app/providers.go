package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MrWong99/transrouter/internal/config"
	"github.com/MrWong99/transrouter/internal/resilience"
	"github.com/MrWong99/transrouter/pkg/audio"
)

// BuildProviders instantiates every backend named in cfg through reg.
// Devices are not opened here; the returned openers create them per session.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{RemoteName: cfg.Providers.S2S.Name}

	remote, err := reg.CreateS2S(cfg.Providers.S2S)
	if err != nil {
		return nil, fmt.Errorf("app: create s2s provider %q: %w", cfg.Providers.S2S.Name, err)
	}
	ps.Remote = remote
	slog.Info("provider created", "kind", "s2s", "name", cfg.Providers.S2S.Name, "model", cfg.Providers.S2S.Model)

	if len(cfg.Providers.S2SFallbacks) > 0 {
		failover := resilience.NewS2SFailover(cfg.Providers.S2S.Name, remote, resilience.BreakerConfig{})
		for _, fb := range cfg.Providers.S2SFallbacks {
			p, err := reg.CreateS2S(fb)
			if err != nil {
				return nil, fmt.Errorf("app: create s2s fallback %q: %w", fb.Name, err)
			}
			failover.AddFallback(fb.Name, p)
			slog.Info("provider created", "kind", "s2s-fallback", "name", fb.Name, "model", fb.Model)
		}
		ps.Remote = failover
	}

	oracle, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	ps.Oracle = oracle
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	if name := cfg.Providers.TTS.Name; name != "" && cfg.Remote.ResponseModality == config.ModalityText {
		synth, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			_ = oracle.Close()
			return nil, fmt.Errorf("app: create tts provider %q: %w", name, err)
		}
		ps.Synthesizer = synth
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	for kind, name := range map[string]string{
		"capture": cfg.Providers.Capture.Name,
		"output":  cfg.Providers.Output.Name,
	} {
		if !slices.Contains(reg.Names(kind), name) {
			_ = oracle.Close()
			return nil, fmt.Errorf("app: %w: %s/%q", config.ErrProviderNotRegistered, kind, name)
		}
	}

	captureEntry, captureDev := cfg.Providers.Capture, cfg.Audio.Capture.DeviceConfig()
	ps.OpenCapture = func(context.Context) (audio.CaptureDevice, error) {
		return reg.CreateCapture(captureEntry, captureDev)
	}
	outputEntry, outputDev := cfg.Providers.Output, cfg.Audio.Playback.DeviceConfig()
	ps.OpenOutput = func(context.Context) (audio.OutputDevice, error) {
		return reg.CreateOutput(outputEntry, outputDev)
	}
	return ps, nil
}
