package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the assistant persona are safe to apply to a running appliance;
// everything else is wired at startup and is reported in RestartNeeded.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AssistantChanged bool
	NewAssistant     AssistantConfig

	// RestartNeeded lists the config sections that changed but cannot be
	// hot-reloaded.
	RestartNeeded []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Assistant != new.Assistant {
		d.AssistantChanged = true
		d.NewAssistant = new.Assistant
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartNeeded = append(d.RestartNeeded, "server")
	}
	if old.Audio != new.Audio {
		d.RestartNeeded = append(d.RestartNeeded, "audio")
	}
	if old.Capture != new.Capture {
		d.RestartNeeded = append(d.RestartNeeded, "capture")
	}
	if old.Playback != new.Playback {
		d.RestartNeeded = append(d.RestartNeeded, "playback")
	}
	if old.Relay != new.Relay {
		d.RestartNeeded = append(d.RestartNeeded, "relay")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartNeeded = append(d.RestartNeeded, "providers")
	}
	if old.History != new.History {
		d.RestartNeeded = append(d.RestartNeeded, "history")
	}
	if old.Trigger != new.Trigger {
		d.RestartNeeded = append(d.RestartNeeded, "trigger")
	}

	return d
}

// tlsEqual compares two optional TLS blocks by value.
func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
