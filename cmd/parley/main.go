// Command parley is the main entry point for the Parley voice assistant
// appliance: a push-to-talk loop that records a question from the microphone,
// answers it through the configured speech and chat providers, and speaks the
// reply, with a WebSocket relay channel for remote peers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parleylabs/parley/internal/assistant"
	"github.com/parleylabs/parley/internal/capture"
	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/health"
	"github.com/parleylabs/parley/internal/history"
	"github.com/parleylabs/parley/internal/observe"
	"github.com/parleylabs/parley/internal/playback"
	"github.com/parleylabs/parley/internal/relay"
	"github.com/parleylabs/parley/internal/resilience"
	"github.com/parleylabs/parley/internal/transcript"
	"github.com/parleylabs/parley/internal/trigger"
	"github.com/parleylabs/parley/pkg/audio"
	"github.com/parleylabs/parley/pkg/audio/aplay"
	audiomock "github.com/parleylabs/parley/pkg/audio/mock"
	"github.com/parleylabs/parley/pkg/audio/portaudio"
	"github.com/parleylabs/parley/pkg/provider/chat"
	"github.com/parleylabs/parley/pkg/provider/chat/anyllm"
	chatmock "github.com/parleylabs/parley/pkg/provider/chat/mock"
	chatopenai "github.com/parleylabs/parley/pkg/provider/chat/openai"
	"github.com/parleylabs/parley/pkg/provider/stt"
	"github.com/parleylabs/parley/pkg/provider/stt/deepgram"
	sttmock "github.com/parleylabs/parley/pkg/provider/stt/mock"
	"github.com/parleylabs/parley/pkg/provider/stt/whisper"
	"github.com/parleylabs/parley/pkg/provider/tts"
	"github.com/parleylabs/parley/pkg/provider/tts/beep"
	"github.com/parleylabs/parley/pkg/provider/tts/coqui"
	"github.com/parleylabs/parley/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/parleylabs/parley/pkg/provider/tts/mock"
	ttsopenai "github.com/parleylabs/parley/pkg/provider/tts/openai"
)

// defaultChatModel is used when the openai chat provider is configured
// without an explicit model.
const defaultChatModel = "gpt-4o-mini"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A .env next to the binary can carry OPENAI_API_KEY and friends on a dev
	// box; on the appliance the keys come from the unit file environment.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it on a
	// running appliance.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parley"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── API key check ─────────────────────────────────────────────────────────
	// Catch a missing OpenAI key at boot rather than on the first button press.
	if name := missingKeyProvider(cfg); name != "" {
		slog.Error("OPENAI_API_KEY is not set and the provider has no api_key configured", "provider", name)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Provider chains ───────────────────────────────────────────────────────
	sttChain, chatChain, ttsChain, err := buildChains(cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Audio device and sink ─────────────────────────────────────────────────
	device := buildDevice(cfg)

	// Probe the microphone once at boot. A missing device is not fatal (the
	// relay channel still works) but readyz reports it until a restart.
	var audioReady atomic.Bool
	if err := device.Open(); err != nil {
		slog.Warn("audio input unavailable", "err", err)
	} else {
		if err := device.Close(); err != nil {
			slog.Warn("audio input close after probe", "err", err)
		}
		audioReady.Store(true)
	}

	sink := buildSink(cfg)

	// ── Capture ───────────────────────────────────────────────────────────────
	if err := os.MkdirAll(cfg.Audio.RecordingsDir, 0o755); err != nil {
		slog.Error("failed to create recordings dir", "dir", cfg.Audio.RecordingsDir, "err", err)
		return 1
	}
	recorder, err := capture.New(device,
		capture.WithFormat(audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}),
		capture.WithChunkFrames(cfg.Audio.ChunkFrames),
		capture.WithSilenceThreshold(cfg.Capture.SilenceThreshold),
		capture.WithSilenceDuration(time.Duration(cfg.Capture.SilenceMS)*time.Millisecond),
		capture.WithMaxDuration(time.Duration(cfg.Capture.MaxRecordingMS)*time.Millisecond),
		capture.WithOutputDir(cfg.Audio.RecordingsDir),
		capture.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create recorder", "err", err)
		return 1
	}

	// ── Playback ──────────────────────────────────────────────────────────────
	stream, err := playback.New(sink,
		playback.WithSegmentSize(cfg.Playback.SegmentBytes),
		playback.WithPollInterval(time.Duration(cfg.Playback.PollMS)*time.Millisecond),
		playback.WithLogger(logger),
		playback.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create playback stream", "err", err)
		return 1
	}

	// ── History ───────────────────────────────────────────────────────────────
	store, pool, err := buildHistory(ctx, cfg)
	if err != nil {
		slog.Error("failed to open history store", "err", err)
		return 1
	}

	// ── Transcript journal ────────────────────────────────────────────────────
	journal, err := transcript.NewWriter(
		filepath.Join(cfg.Audio.RecordingsDir, "turns.jsonl"),
		transcript.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to open transcript journal", "err", err)
		return 1
	}

	// ── Trigger source ────────────────────────────────────────────────────────
	src, err := buildTrigger(cfg, logger)
	if err != nil {
		slog.Error("failed to open trigger source", "err", err)
		return 1
	}

	// ── Relay hub ─────────────────────────────────────────────────────────────
	// The hub is created before the assistant but calls back into it when a
	// peer sends audio, hence the atomic pointer.
	var asstRef atomic.Pointer[assistant.Assistant]
	hubOpts := []relay.Option{
		relay.WithAudioDir(cfg.Audio.RecordingsDir),
		relay.WithSendBuffer(cfg.Relay.SendBuffer),
		relay.WithLogger(logger),
		relay.WithMetrics(metrics),
		relay.WithAudioCallback(func(path string) {
			a := asstRef.Load()
			if a == nil {
				return
			}
			// The callback runs on the peer's read goroutine and must not
			// block on playback.
			go func() {
				if err := a.PlayFile(ctx, path); err != nil {
					slog.Warn("relayed clip playback failed", "path", path, "err", err)
				}
			}()
		}),
	}
	if cfg.Relay.Greeting != "" {
		hubOpts = append(hubOpts, relay.WithGreeting(cfg.Relay.Greeting))
	}
	hub, err := relay.New(hubOpts...)
	if err != nil {
		slog.Error("failed to create relay hub", "err", err)
		return 1
	}

	// ── Assistant ─────────────────────────────────────────────────────────────
	asst, err := assistant.New(assistant.Pipeline{
		Triggers: src,
		Recorder: recorder,
		STT:      sttChain,
		Chat:     chatChain,
		TTS:      ttsChain,
		Player:   stream,
		History:  store,
		Relay:    hub,
		Journal:  journal,
		Sink:     sink,
	},
		assistant.WithLogger(logger),
		assistant.WithMetrics(metrics),
		assistant.WithPersona(assistant.Persona{
			SystemPrompt: cfg.Assistant.SystemPrompt,
			Greeting:     cfg.Assistant.Greeting,
			Apology:      cfg.Assistant.Apology,
		}),
		assistant.WithResponsesDir(cfg.Audio.ResponsesDir),
	)
	if err != nil {
		slog.Error("failed to create assistant", "err", err)
		return 1
	}
	asstRef.Store(asst)

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := []health.Checker{
		health.Flag("audio", &audioReady, "input device unavailable"),
		health.Component("relay", hub),
		health.Component("stt", sttChain),
		health.Component("chat", chatChain),
		health.Component("tts", ttsChain),
	}
	if pool != nil {
		checks = append(checks, health.Checker{Name: "history", Check: pool.Ping})
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, cur *config.Config) {
		d := config.Diff(old, cur)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.AssistantChanged {
			asst.SetPersona(assistant.Persona{
				SystemPrompt: d.NewAssistant.SystemPrompt,
				Greeting:     d.NewAssistant.Greeting,
				Apology:      d.NewAssistant.Apology,
			})
			slog.Info("assistant persona updated")
		}
		for _, section := range d.RestartNeeded {
			slog.Warn("config change requires a restart", "section", section)
		}
	}, config.WithLogger(logger))
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		// Peers are disconnected before the listener goes away; Shutdown
		// does not track hijacked WebSocket connections.
		if err := hub.Close(); err != nil {
			slog.Warn("relay close error", "err", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := asst.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	slog.Info("parley ready, press the button or Ctrl+C to shut down")

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")

	if watcher != nil {
		watcher.Stop()
	}
	if err := src.Close(); err != nil {
		slog.Warn("trigger close error", "err", err)
	}
	if err := stream.Close(); err != nil {
		slog.Warn("playback close error", "err", err)
	}
	if err := journal.Close(); err != nil {
		slog.Warn("transcript close error", "err", err)
	}
	if pool != nil {
		pool.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	if runErr != nil {
		return 1
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, whisper.WithBaseURL(entry.BaseURL))
		}
		return whisper.New(apiKeyOr(entry, "OPENAI_API_KEY"), opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(apiKeyOr(entry, "DEEPGRAM_API_KEY"), opts...)
	})

	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		text := optString(entry.Options, "text")
		if text == "" {
			text = "Hello, Parley."
		}
		return &sttmock.Transcriber{Text: text}, nil
	})

	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("openai", func(entry config.ProviderEntry) (chat.Responder, error) {
		model := entry.Model
		if model == "" {
			model = defaultChatModel
		}
		var opts []chatopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, chatopenai.WithBaseURL(entry.BaseURL))
		}
		if t, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, chatopenai.WithTemperature(t))
		}
		if n, ok := optInt(entry.Options, "max_tokens"); ok {
			opts = append(opts, chatopenai.WithMaxTokens(n))
		}
		return chatopenai.New(apiKeyOr(entry, "OPENAI_API_KEY"), model, opts...)
	})

	reg.RegisterChat("anthropic", func(entry config.ProviderEntry) (chat.Responder, error) {
		var backend []anyllmlib.Option
		if entry.APIKey != "" {
			backend = append(backend, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			backend = append(backend, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		opts := []anyllm.Option{anyllm.WithBackendOptions(backend...)}
		if t, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, anyllm.WithTemperature(t))
		}
		if n, ok := optInt(entry.Options, "max_tokens"); ok {
			opts = append(opts, anyllm.WithMaxTokens(n))
		}
		return anyllm.NewAnthropic(entry.Model, opts...)
	})

	// ollama is a local server; BaseURL carries the address, no API key.
	reg.RegisterChat("ollama", func(entry config.ProviderEntry) (chat.Responder, error) {
		var backend []anyllmlib.Option
		if entry.BaseURL != "" {
			backend = append(backend, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		opts := []anyllm.Option{anyllm.WithBackendOptions(backend...)}
		if t, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, anyllm.WithTemperature(t))
		}
		if n, ok := optInt(entry.Options, "max_tokens"); ok {
			opts = append(opts, anyllm.WithMaxTokens(n))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterChat("mock", func(entry config.ProviderEntry) (chat.Responder, error) {
		text := optString(entry.Options, "text")
		if text == "" {
			text = "This is a canned reply."
		}
		return &chatmock.Responder{Text: text}, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if n, ok := optInt(entry.Options, "cache_size"); ok {
			opts = append(opts, ttsopenai.WithCacheSize(n))
		}
		return ttsopenai.New(apiKeyOr(entry, "OPENAI_API_KEY"), opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if f := optString(entry.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if n, ok := optInt(entry.Options, "cache_size"); ok {
			opts = append(opts, elevenlabs.WithCacheSize(n))
		}
		return elevenlabs.New(apiKeyOr(entry, "ELEVENLABS_API_KEY"), opts...)
	})

	// coqui talks to a self-hosted TTS server; BaseURL carries its address.
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if sp := optString(entry.Options, "speaker"); sp != "" {
			opts = append(opts, coqui.WithSpeaker(sp))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("beep", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []beep.Option
		if hz, ok := optFloat(entry.Options, "frequency"); ok {
			opts = append(opts, beep.WithFrequency(hz))
		}
		if ms, ok := optInt(entry.Options, "duration_ms"); ok {
			opts = append(opts, beep.WithDuration(time.Duration(ms)*time.Millisecond))
		}
		if a, ok := optFloat(entry.Options, "amplitude"); ok {
			opts = append(opts, beep.WithAmplitude(a))
		}
		return beep.New(opts...)
	})

	reg.RegisterTTS("mock", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		// 200 ms of silence so the playback path is still exercised end to end.
		pcm := make([]byte, 9600)
		return &ttsmock.Synthesizer{WAV: audio.EncodeWAV(pcm, audio.Format{SampleRate: 24000, Channels: 1})}, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildChains instantiates the configured providers and wraps each pipeline
// stage in a fallback chain with per-backend circuit breakers. The synthesis
// chain always ends in the offline beep generator so a failed reply is heard
// as a tone rather than silence.
func buildChains(cfg *config.Config, reg *config.Registry, logger *slog.Logger) (*resilience.TranscriberFallback, *resilience.ResponderFallback, *resilience.SynthesizerFallback, error) {
	fbCfg := resilience.FallbackConfig{Logger: logger}

	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	sttChain := resilience.NewTranscriberFallback(primarySTT, cfg.Providers.STT.Name, fbCfg)
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		sttChain.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "role", "fallback")
	}

	primaryChat, err := reg.CreateChat(cfg.Providers.Chat)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create chat provider %q: %w", cfg.Providers.Chat.Name, err)
	}
	slog.Info("provider created", "kind", "chat", "name", cfg.Providers.Chat.Name)
	chatChain := resilience.NewResponderFallback(primaryChat, cfg.Providers.Chat.Name, fbCfg)
	for _, entry := range cfg.Providers.ChatFallbacks {
		p, err := reg.CreateChat(entry)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create chat fallback %q: %w", entry.Name, err)
		}
		chatChain.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "chat", "name", entry.Name, "role", "fallback")
	}

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)
	ttsChain := resilience.NewSynthesizerFallback(primaryTTS, cfg.Providers.TTS.Name, fbCfg)
	hasBeep := cfg.Providers.TTS.Name == "beep"
	for _, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		ttsChain.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "tts", "name", entry.Name, "role", "fallback")
		if entry.Name == "beep" {
			hasBeep = true
		}
	}
	if !hasBeep {
		b, err := beep.New()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create tts fallback %q: %w", "beep", err)
		}
		ttsChain.AddFallback("beep", b)
		slog.Info("provider created", "kind", "tts", "name", "beep", "role", "last resort")
	}

	return sttChain, chatChain, ttsChain, nil
}

// missingKeyProvider returns the slot of the first configured provider that
// needs an OpenAI API key when neither its entry nor the environment supplies
// one, or "" when all keys are accounted for.
func missingKeyProvider(cfg *config.Config) string {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ""
	}
	slots := []struct {
		kind    string
		entries []config.ProviderEntry
	}{
		{"stt", append([]config.ProviderEntry{cfg.Providers.STT}, cfg.Providers.STTFallbacks...)},
		{"chat", append([]config.ProviderEntry{cfg.Providers.Chat}, cfg.Providers.ChatFallbacks...)},
		{"tts", append([]config.ProviderEntry{cfg.Providers.TTS}, cfg.Providers.TTSFallbacks...)},
	}
	for _, s := range slots {
		for _, e := range s.entries {
			if e.APIKey != "" {
				continue
			}
			// whisper is the OpenAI-backed transcriber; "openai" only
			// appears in the chat and tts name lists.
			if e.Name == "whisper" || e.Name == "openai" {
				return s.kind + "/" + e.Name
			}
		}
	}
	return ""
}

// apiKeyOr returns the entry's API key, falling back to the named environment
// variable. For the OpenAI-backed providers missingKeyProvider has already
// verified that one of the two is present.
func apiKeyOr(entry config.ProviderEntry, envVar string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv(envVar)
}

// ── Subsystem construction ────────────────────────────────────────────────────

func buildDevice(cfg *config.Config) audio.Device {
	if cfg.Audio.Input == config.InputMock {
		// An endless silent microphone: recordings end via the silence
		// timeout, which exercises the full turn without hardware.
		return &audiomock.Device{Fill: make([]byte, cfg.Audio.ChunkFrames*cfg.Audio.Channels*2)}
	}
	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}
	return portaudio.NewDevice(format, cfg.Audio.ChunkFrames)
}

func buildSink(cfg *config.Config) audio.Sink {
	switch cfg.Audio.Output {
	case config.OutputAplay:
		return &aplay.Sink{}
	case config.OutputMock:
		return &audiomock.Sink{}
	default:
		return &portaudio.Sink{ChunkFrames: cfg.Audio.ChunkFrames}
	}
}

func buildTrigger(cfg *config.Config, logger *slog.Logger) (trigger.Source, error) {
	debounce := time.Duration(cfg.Trigger.DebounceMS) * time.Millisecond
	if cfg.Trigger.Source == config.TriggerStdin {
		src := trigger.NewStdin(trigger.WithStdinLogger(logger))
		if debounce > 0 {
			return trigger.Debounce(src, debounce), nil
		}
		return src, nil
	}
	// The GPIO line debounces in the kernel, no wrapper needed.
	return trigger.NewGPIO(
		trigger.WithChip(cfg.Trigger.Chip),
		trigger.WithPin(cfg.Trigger.Pin),
		trigger.WithDebouncePeriod(debounce),
		trigger.WithGPIOLogger(logger),
	)
}

// buildHistory opens the configured conversation store. The returned pool is
// non-nil only for the postgres backend; the caller owns closing it.
func buildHistory(ctx context.Context, cfg *config.Config) (history.Store, *pgxpool.Pool, error) {
	if cfg.History.Store == config.HistoryPostgres {
		pool, err := pgxpool.New(ctx, cfg.History.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := history.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate history schema: %w", err)
		}
		store, err := history.NewPGStore(pool, history.WithMaxTurns(cfg.History.MaxTurns))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool, nil
	}
	store, err := history.NewFileStore(cfg.History.Path, history.WithMaxTurns(cfg.History.MaxTurns))
	if err != nil {
		return nil, nil, err
	}
	return store, nil, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║         Parley startup summary         ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("Chat", providerLabel(cfg.Providers.Chat))
	printRow("TTS", providerLabel(cfg.Providers.TTS))
	printRow("Audio", fmt.Sprintf("%s / %s", cfg.Audio.Input, cfg.Audio.Output))
	printRow("History", string(cfg.History.Store))
	printRow("Trigger", string(cfg.Trigger.Source))
	printRow("Listen", cfg.Server.ListenAddr)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 24 {
		value = value[:23] + "…"
	}
	fmt.Printf("║  %-10s : %-24s ║\n", label, value)
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a numeric value from a provider Options map. YAML decodes
// whole numbers as int, so both int and float64 are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func optInt(opts map[string]any, key string) (int, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
