package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/parleylabs/parley/internal/history"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults]. They mirror the reference appliance:
// a Raspberry Pi with a tactile button on BCM pin 17, recording 16 kHz mono
// from the default microphone.
const (
	DefaultListenAddr       = ":8765"
	DefaultSampleRate       = 16000
	DefaultChannels         = 1
	DefaultChunkFrames      = 1024
	DefaultSilenceThreshold = 1000.0
	DefaultSilenceMS        = 2000
	DefaultMaxRecordingMS   = 30000
	DefaultSegmentBytes     = 32000
	DefaultPollMS           = 100
	DefaultSendBuffer       = 32
	DefaultGPIOChip         = "gpiochip0"
	DefaultGPIOPin          = 17
	DefaultDebounceMS       = 200
	DefaultRecordingsDir    = "audio"
	DefaultResponsesDir     = "audio/responses"
)

// ValidProviderNames lists known provider names per provider kind. [Validate]
// rejects names outside these lists. Programs embedding Parley that register
// additional providers in the [Registry] should extend this map before
// calling [Load].
var ValidProviderNames = map[string][]string{
	"stt":  {"whisper", "deepgram", "mock"},
	"chat": {"openai", "anthropic", "ollama", "mock"},
	"tts":  {"openai", "elevenlabs", "coqui", "beep", "mock"},
}

// Load reads the YAML configuration file at path and returns a defaulted,
// validated [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the appliance defaults.
// It is called by [Load] and [LoadFromReader]; call it directly only when
// constructing a [Config] in code.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.Input == "" {
		cfg.Audio.Input = InputPortAudio
	}
	if cfg.Audio.Output == "" {
		cfg.Audio.Output = OutputPortAudio
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.ChunkFrames == 0 {
		cfg.Audio.ChunkFrames = DefaultChunkFrames
	}
	if cfg.Audio.RecordingsDir == "" {
		cfg.Audio.RecordingsDir = DefaultRecordingsDir
	}
	if cfg.Audio.ResponsesDir == "" {
		cfg.Audio.ResponsesDir = DefaultResponsesDir
	}

	if cfg.Capture.SilenceThreshold == 0 {
		cfg.Capture.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.Capture.SilenceMS == 0 {
		cfg.Capture.SilenceMS = DefaultSilenceMS
	}
	if cfg.Capture.MaxRecordingMS == 0 {
		cfg.Capture.MaxRecordingMS = DefaultMaxRecordingMS
	}

	if cfg.Playback.SegmentBytes == 0 {
		cfg.Playback.SegmentBytes = DefaultSegmentBytes
	}
	if cfg.Playback.PollMS == 0 {
		cfg.Playback.PollMS = DefaultPollMS
	}

	if cfg.Relay.SendBuffer == 0 {
		cfg.Relay.SendBuffer = DefaultSendBuffer
	}

	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = "whisper"
	}
	if cfg.Providers.Chat.Name == "" {
		cfg.Providers.Chat.Name = "openai"
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = "openai"
	}

	if cfg.History.Store == "" {
		cfg.History.Store = HistoryFile
	}
	if cfg.History.Path == "" {
		cfg.History.Path = history.DefaultFileName
	}
	if cfg.History.MaxTurns == 0 {
		cfg.History.MaxTurns = history.DefaultMaxTurns
	}

	if cfg.Trigger.Source == "" {
		cfg.Trigger.Source = TriggerGPIO
	}
	if cfg.Trigger.Chip == "" {
		cfg.Trigger.Chip = DefaultGPIOChip
	}
	if cfg.Trigger.Pin == 0 {
		cfg.Trigger.Pin = DefaultGPIOPin
	}
	if cfg.Trigger.DebounceMS == 0 {
		cfg.Trigger.DebounceMS = DefaultDebounceMS
	}
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied, so zero values that [ApplyDefaults] would
// fill are reported as errors. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when server.tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when server.tls is set"))
		}
	}

	// Audio
	if !cfg.Audio.Input.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input %q is invalid; valid values: portaudio, mock", cfg.Audio.Input))
	}
	if !cfg.Audio.Output.IsValid() {
		errs = append(errs, fmt.Errorf("audio.output %q is invalid; valid values: portaudio, aplay, mock", cfg.Audio.Output))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.ChunkFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_frames %d must be positive", cfg.Audio.ChunkFrames))
	}

	// Capture
	if cfg.Capture.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("capture.silence_threshold %.1f must not be negative", cfg.Capture.SilenceThreshold))
	}
	if cfg.Capture.SilenceMS <= 0 {
		errs = append(errs, fmt.Errorf("capture.silence_ms %d must be positive", cfg.Capture.SilenceMS))
	}
	if cfg.Capture.MaxRecordingMS <= 0 {
		errs = append(errs, fmt.Errorf("capture.max_recording_ms %d must be positive", cfg.Capture.MaxRecordingMS))
	} else if cfg.Capture.SilenceMS > 0 && cfg.Capture.MaxRecordingMS < cfg.Capture.SilenceMS {
		errs = append(errs, fmt.Errorf("capture.max_recording_ms %d must be at least capture.silence_ms %d", cfg.Capture.MaxRecordingMS, cfg.Capture.SilenceMS))
	}

	// Playback
	if cfg.Playback.SegmentBytes <= 0 || cfg.Playback.SegmentBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("playback.segment_bytes %d must be positive and even", cfg.Playback.SegmentBytes))
	}
	if cfg.Playback.PollMS <= 0 {
		errs = append(errs, fmt.Errorf("playback.poll_ms %d must be positive", cfg.Playback.PollMS))
	}

	// Relay
	if cfg.Relay.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("relay.send_buffer %d must be positive", cfg.Relay.SendBuffer))
	}

	// Providers
	errs = validateProviderName(errs, "stt", "providers.stt", cfg.Providers.STT.Name)
	errs = validateProviderName(errs, "chat", "providers.chat", cfg.Providers.Chat.Name)
	errs = validateProviderName(errs, "tts", "providers.tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		errs = validateProviderName(errs, "stt", fmt.Sprintf("providers.stt_fallbacks[%d]", i), e.Name)
	}
	for i, e := range cfg.Providers.ChatFallbacks {
		errs = validateProviderName(errs, "chat", fmt.Sprintf("providers.chat_fallbacks[%d]", i), e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		errs = validateProviderName(errs, "tts", fmt.Sprintf("providers.tts_fallbacks[%d]", i), e.Name)
	}

	// History
	if !cfg.History.Store.IsValid() {
		errs = append(errs, fmt.Errorf("history.store %q is invalid; valid values: file, postgres", cfg.History.Store))
	}
	if cfg.History.Store == HistoryPostgres && cfg.History.PostgresDSN == "" {
		errs = append(errs, errors.New("history.postgres_dsn is required when history.store is postgres"))
	}
	if cfg.History.Store == HistoryFile && cfg.History.PostgresDSN != "" {
		slog.Warn("history.postgres_dsn is set but history.store is file; the DSN will be ignored")
	}

	// Trigger
	if !cfg.Trigger.Source.IsValid() {
		errs = append(errs, fmt.Errorf("trigger.source %q is invalid; valid values: gpio, stdin", cfg.Trigger.Source))
	}
	if cfg.Trigger.Source == TriggerGPIO {
		if cfg.Trigger.Chip == "" {
			errs = append(errs, errors.New("trigger.chip is required when trigger.source is gpio"))
		}
		if cfg.Trigger.Pin < 0 {
			errs = append(errs, fmt.Errorf("trigger.pin %d must not be negative", cfg.Trigger.Pin))
		}
	}
	if cfg.Trigger.DebounceMS < 0 {
		errs = append(errs, fmt.Errorf("trigger.debounce_ms %d must not be negative", cfg.Trigger.DebounceMS))
	}

	return errors.Join(errs...)
}

// validateProviderName appends an error if name is not in the
// [ValidProviderNames] list for the given kind.
func validateProviderName(errs []error, kind, path, name string) []error {
	if name == "" {
		return append(errs, fmt.Errorf("%s.name is required", path))
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return errs
	}
	if slices.Contains(known, name) {
		return errs
	}
	return append(errs, fmt.Errorf("%s.name %q is unknown; known names: %s", path, name, strings.Join(known, ", ")))
}
