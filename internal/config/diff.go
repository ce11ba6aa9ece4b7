package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; every other change
// is listed in RestartRequired and takes effect on the next process start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	// RestartRequired names the sections whose changes were ignored.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// VAD threshold
	if old.Segmenter.Threshold != new.Segmenter.Threshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Segmenter.Threshold
	}

	// Everything else needs a restart.
	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogDir != new.Server.LogDir {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Segmenter.MinSpeech != new.Segmenter.MinSpeech || old.Segmenter.Silence != new.Segmenter.Silence {
		d.RestartRequired = append(d.RestartRequired, "segmenter")
	}
	if old.Dispatch != new.Dispatch {
		d.RestartRequired = append(d.RestartRequired, "dispatch")
	}
	if old.Remote != new.Remote {
		d.RestartRequired = append(d.RestartRequired, "remote")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}

	return d
}

// sameProviders compares provider entries by their scalar fields. Options
// maps are not compared.
func sameProviders(a, b ProvidersConfig) bool {
	if len(a.S2SFallbacks) != len(b.S2SFallbacks) {
		return false
	}
	pairs := [][2]ProviderEntry{
		{a.S2S, b.S2S}, {a.VAD, b.VAD}, {a.TTS, b.TTS}, {a.Capture, b.Capture}, {a.Output, b.Output},
	}
	for i := range a.S2SFallbacks {
		pairs = append(pairs, [2]ProviderEntry{a.S2SFallbacks[i], b.S2SFallbacks[i]})
	}
	for _, p := range pairs {
		x, y := p[0], p[1]
		if x.Name != y.Name || x.APIKey != y.APIKey || x.BaseURL != y.BaseURL || x.Model != y.Model {
			return false
		}
	}
	return true
}
