// Package assistant runs the Parley interaction loop: a button press becomes
// a recorded question, a transcript, a model reply, and synthesized speech on
// the appliance speaker.
//
// One Assistant owns one conversation and serves turns strictly in series. A
// trigger that arrives while a turn is in flight is ignored, and presses that
// queue up during a turn are discarded when it ends, so holding or mashing
// the button never stacks interactions. Every stage failure is logged,
// answered with a spoken apology where one applies, and returns the
// assistant to idle. A bad turn never silences the appliance.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/parleylabs/parley/internal/capture"
	"github.com/parleylabs/parley/internal/history"
	"github.com/parleylabs/parley/internal/observe"
	"github.com/parleylabs/parley/internal/trigger"
	"github.com/parleylabs/parley/pkg/audio"
	"github.com/parleylabs/parley/pkg/provider/chat"
	"github.com/parleylabs/parley/pkg/provider/stt"
	"github.com/parleylabs/parley/pkg/provider/tts"
	"github.com/parleylabs/parley/pkg/types"
)

// Built-in persona texts, used when the configuration leaves them empty.
const (
	// DefaultSystemPrompt steers every chat request. It is sent with each
	// request and never stored in history.
	DefaultSystemPrompt = "You are Parley, a helpful and friendly voice assistant. " +
		"Keep your responses concise and conversational."

	// DefaultGreeting is spoken once at startup.
	DefaultGreeting = "Parley is now online and ready to assist you."

	// DefaultApology is spoken when a stage fails and no more specific line
	// applies.
	DefaultApology = "Sorry, I encountered an error. Please try again."
)

// Stage-specific apologies, spoken instead of the persona apology when the
// failing stage is known.
const (
	apologyTranscribe = "I couldn't understand what you said. Could you please try again?"
	apologyReply      = "I'm having trouble connecting to my brain right now. Please try again later."
	apologySynthesize = "I'm having trouble generating a response. Please try again later."
)

// ErrBusy is returned by [Assistant.Interact] and [Assistant.Greet] when a
// turn is already in flight. The running turn is unaffected.
var ErrBusy = errors.New("assistant: interaction already in progress")

// Recorder captures one utterance per call. *capture.Recorder implements it.
type Recorder interface {
	Record(ctx context.Context) (*capture.Recording, error)
}

// Player queues PCM for serialized playback and waits for it to drain.
// *playback.Stream implements it.
type Player interface {
	Append(pcm []byte) error
	Flush(ctx context.Context) error
}

// Broadcaster fans a captured question out to relay peers. *relay.Hub
// implements it.
type Broadcaster interface {
	SendAudio(path string) bool
}

// Journal receives one [types.Exchange] per completed turn.
// *transcript.Writer implements it.
type Journal interface {
	Record(ctx context.Context, ex types.Exchange) error
}

// Persona is the assistant's spoken identity. Empty fields fall back to the
// package defaults.
type Persona struct {
	// SystemPrompt steers the chat model.
	SystemPrompt string

	// Greeting is spoken at startup.
	Greeting string

	// Apology is spoken when a stage fails without a more specific line.
	Apology string
}

// withDefaults fills empty fields from the package defaults.
func (p Persona) withDefaults() Persona {
	if p.SystemPrompt == "" {
		p.SystemPrompt = DefaultSystemPrompt
	}
	if p.Greeting == "" {
		p.Greeting = DefaultGreeting
	}
	if p.Apology == "" {
		p.Apology = DefaultApology
	}
	return p
}

// Pipeline is the set of collaborators an Assistant drives. Triggers,
// Recorder, STT, Chat, TTS, and Player are required. History, Relay, Journal,
// and Sink are optional; leaving one nil disables that concern for the whole
// run.
type Pipeline struct {
	// Triggers emits one event per button press (or stdin line).
	Triggers trigger.Source

	// Recorder captures the user's question.
	Recorder Recorder

	// STT turns the recorded question into text.
	STT stt.Transcriber

	// Chat produces the reply text.
	Chat chat.Responder

	// TTS renders reply text as a WAV clip.
	TTS tts.Synthesizer

	// Player streams reply PCM to the speaker.
	Player Player

	// History persists the rolling conversation. Nil means every turn is
	// answered without memory.
	History history.Store

	// Relay broadcasts each captured question to connected peers.
	Relay Broadcaster

	// Journal records one Exchange per completed turn.
	Journal Journal

	// Sink plays clips whose format the playback stream cannot take, at
	// their own sample rate.
	Sink audio.Sink
}

// Assistant drives the Parley interaction pipeline.
type Assistant struct {
	triggers trigger.Source
	recorder Recorder
	sttP     stt.Transcriber
	chatP    chat.Responder
	ttsP     tts.Synthesizer
	player   Player
	hist     history.Store
	relay    Broadcaster
	journal  Journal
	sink     audio.Sink

	log     *slog.Logger
	metrics *observe.Metrics

	format       audio.Format
	responsesDir string

	personaMu sync.RWMutex
	persona   Persona

	busy atomic.Bool
}

// Option is a functional option for configuring an Assistant.
type Option func(*Assistant)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *Assistant) {
		a.log = log
	}
}

// WithMetrics sets the metrics sink. Nil leaves the assistant unmetered.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) {
		a.metrics = m
	}
}

// WithPersona sets the initial persona. Empty fields fall back to the
// package defaults.
func WithPersona(p Persona) Option {
	return func(a *Assistant) {
		a.persona = p
	}
}

// WithFormat sets the playback stream's PCM format, used to decide whether a
// clip can be appended to the stream or must go to the direct sink. Defaults
// to 24 kHz mono, the synthesizer output format.
func WithFormat(f audio.Format) Option {
	return func(a *Assistant) {
		a.format = f
	}
}

// WithResponsesDir sets where reply clips are saved, one WAV per turn. Empty
// disables saving. The directory is created on construction.
func WithResponsesDir(dir string) Option {
	return func(a *Assistant) {
		a.responsesDir = dir
	}
}

// New returns an Assistant driving the given pipeline.
func New(p Pipeline, opts ...Option) (*Assistant, error) {
	switch {
	case p.Triggers == nil:
		return nil, errors.New("assistant: trigger source is required")
	case p.Recorder == nil:
		return nil, errors.New("assistant: recorder is required")
	case p.STT == nil:
		return nil, errors.New("assistant: transcriber is required")
	case p.Chat == nil:
		return nil, errors.New("assistant: responder is required")
	case p.TTS == nil:
		return nil, errors.New("assistant: synthesizer is required")
	case p.Player == nil:
		return nil, errors.New("assistant: player is required")
	}

	a := &Assistant{
		triggers: p.Triggers,
		recorder: p.Recorder,
		sttP:     p.STT,
		chatP:    p.Chat,
		ttsP:     p.TTS,
		player:   p.Player,
		hist:     p.History,
		relay:    p.Relay,
		journal:  p.Journal,
		sink:     p.Sink,
		log:      slog.Default(),
		format:   audio.Format{SampleRate: 24000, Channels: 1},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.persona = a.persona.withDefaults()

	if a.responsesDir != "" {
		if err := os.MkdirAll(a.responsesDir, 0o755); err != nil {
			return nil, fmt.Errorf("assistant: create responses dir: %w", err)
		}
	}
	return a, nil
}

// Persona returns the current persona with defaults filled in.
func (a *Assistant) Persona() Persona {
	a.personaMu.RLock()
	defer a.personaMu.RUnlock()
	return a.persona
}

// SetPersona replaces the persona. Empty fields fall back to the package
// defaults. Takes effect from the next turn; the config watcher calls this
// on hot reload.
func (a *Assistant) SetPersona(p Persona) {
	a.personaMu.Lock()
	defer a.personaMu.Unlock()
	a.persona = p.withDefaults()
}

// Busy reports whether a turn is currently in flight.
func (a *Assistant) Busy() bool {
	return a.busy.Load()
}

// Run speaks the startup greeting, then serves trigger events until ctx is
// cancelled or the trigger source closes. A failed greeting is logged and
// does not stop the loop.
func (a *Assistant) Run(ctx context.Context) error {
	if err := a.Greet(ctx); err != nil {
		a.log.Warn("assistant: greeting failed", "error", err)
	}

	events := a.triggers.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				a.log.Info("assistant: trigger source closed")
				return nil
			}
			if err := a.Interact(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("assistant: turn failed", "error", err)
			}
			// Presses made during the turn are stale.
			drainEvents(events)
		}
	}
}

// Greet speaks the persona greeting through the playback path. The
// synthesizer's clip cache makes repeated boots cheap, and the beep fallback
// keeps even an offline boot audible. Returns [ErrBusy] when a turn is in
// flight.
func (a *Assistant) Greet(ctx context.Context) error {
	if !a.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer a.busy.Store(false)

	ctx, span := observe.StartSpan(ctx, "assistant.greet")
	defer span.End()

	if err := a.speak(ctx, a.Persona().Greeting); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "greeting failed")
		return err
	}
	return nil
}

// Interact runs one full turn: record, relay, transcribe, reply, synthesize,
// save, play. Returns [ErrBusy] when a turn is already in flight and the
// context error when cancelled mid-turn. Stage failures are spoken as
// apologies and logged, not returned: the assistant recovers to idle after
// every turn.
func (a *Assistant) Interact(ctx context.Context) error {
	if !a.busy.CompareAndSwap(false, true) {
		a.log.Debug("assistant: trigger ignored, turn in flight")
		return ErrBusy
	}
	defer a.busy.Store(false)

	ctx, span := observe.StartSpan(ctx, "assistant.turn")
	defer span.End()

	rec, err := a.record(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		if ctx.Err() != nil {
			return fmt.Errorf("assistant: turn cancelled: %w", ctx.Err())
		}
		if errors.Is(err, capture.ErrEmptyRecording) {
			a.log.Info("assistant: nothing captured")
			a.apologize(ctx, apologyTranscribe)
			return nil
		}
		a.log.Error("assistant: capture failed", "error", err)
		a.apologize(ctx, "")
		return nil
	}
	span.SetAttributes(attribute.String("recording.id", rec.ID))
	turnStart := time.Now()

	if a.relay != nil && !a.relay.SendAudio(rec.Path) {
		a.log.Debug("assistant: question not relayed", "path", rec.Path)
	}

	question, err := a.transcribe(ctx, rec.Path)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("assistant: turn cancelled: %w", ctx.Err())
		}
		a.log.Error("assistant: transcription failed", "id", rec.ID, "error", err)
		a.apologize(ctx, apologyTranscribe)
		return nil
	}
	if strings.TrimSpace(question) == "" {
		a.log.Info("assistant: empty transcription", "id", rec.ID)
		a.apologize(ctx, apologyTranscribe)
		return nil
	}
	a.log.Info("assistant: question", "id", rec.ID, "text", question)

	answer, err := a.reply(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("assistant: turn cancelled: %w", ctx.Err())
		}
		a.log.Error("assistant: reply failed", "id", rec.ID, "error", err)
		a.apologize(ctx, apologyReply)
		return nil
	}
	a.log.Info("assistant: answer", "id", rec.ID, "text", answer)

	if a.hist != nil {
		if err := a.hist.Append(ctx, types.User(question), types.Assistant(answer)); err != nil {
			a.log.Warn("assistant: history append failed", "error", err)
		}
	}

	clip, err := a.synthesize(ctx, answer)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("assistant: turn cancelled: %w", ctx.Err())
		}
		a.log.Error("assistant: synthesis failed", "id", rec.ID, "error", err)
		a.apologize(ctx, apologySynthesize)
		return nil
	}
	a.metrics.RecordTurnDuration(ctx, time.Since(turnStart).Seconds())

	a.saveResponse(rec.ID, clip)

	if a.journal != nil {
		ex := types.Exchange{
			UserText:      question,
			AssistantText: answer,
			AudioPath:     rec.Path,
			AudioDuration: rec.Duration,
			Timestamp:     time.Now(),
		}
		if err := a.journal.Record(ctx, ex); err != nil {
			a.log.Warn("assistant: journal write failed", "error", err)
		}
	}

	if err := a.play(ctx, clip); err != nil {
		// An apology clip would hit the same output path. Log and recover.
		a.log.Error("assistant: playback failed", "id", rec.ID, "error", err)
		return nil
	}
	a.log.Info("assistant: turn completed", "id", rec.ID)
	return nil
}

// PlayFile plays an audio file from disk through the appliance speaker. WAV
// clips stream through the playback buffer; other containers go to the
// direct sink. Used for relayed peer replies, which share the speaker with
// local turns.
func (a *Assistant) PlayFile(ctx context.Context, path string) error {
	clip, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("assistant: read clip: %w", err)
	}
	return a.play(ctx, clip)
}

// record runs one capture session under a span and counts the outcome.
func (a *Assistant) record(ctx context.Context) (*capture.Recording, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.record")
	defer span.End()

	rec, err := a.recorder.Record(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		return nil, err
	}
	a.metrics.RecordRecording(ctx, rec.Reason.String())
	span.SetAttributes(
		attribute.String("recording.reason", rec.Reason.String()),
		attribute.Int("recording.chunks", rec.Chunks),
	)
	return rec, nil
}

// transcribe runs STT on the recording at path.
func (a *Assistant) transcribe(ctx context.Context, path string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.transcribe")
	defer span.End()

	start := time.Now()
	text, err := a.sttP.Transcribe(ctx, path)
	a.metrics.RecordSTTDuration(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		a.metrics.RecordProviderRequest(ctx, "stt", "transcribe", "error")
		a.metrics.RecordProviderError(ctx, "stt", "transcribe")
		return "", err
	}
	a.metrics.RecordProviderRequest(ctx, "stt", "transcribe", "ok")
	return text, nil
}

// reply builds the conversation (system prompt, stored history, the new
// question) and asks the chat backend for an answer. A history load failure
// degrades to a memoryless reply rather than failing the turn.
func (a *Assistant) reply(ctx context.Context, question string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.reply")
	defer span.End()

	conv := []types.Message{types.System(a.Persona().SystemPrompt)}
	if a.hist != nil {
		past, err := a.hist.Load(ctx)
		if err != nil {
			a.log.Warn("assistant: history load failed, replying without memory", "error", err)
		} else {
			conv = append(conv, past...)
		}
	}
	conv = append(conv, types.User(question))

	start := time.Now()
	answer, err := a.chatP.Reply(ctx, conv)
	a.metrics.RecordChatDuration(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply failed")
		a.metrics.RecordProviderRequest(ctx, "chat", "reply", "error")
		a.metrics.RecordProviderError(ctx, "chat", "reply")
		return "", err
	}
	a.metrics.RecordProviderRequest(ctx, "chat", "reply", "ok")
	return answer, nil
}

// synthesize renders text as a WAV clip.
func (a *Assistant) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "assistant.synthesize")
	defer span.End()

	start := time.Now()
	clip, err := a.ttsP.Synthesize(ctx, text)
	a.metrics.RecordTTSDuration(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		a.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "error")
		a.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return nil, err
	}
	a.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")
	return clip, nil
}

// saveResponse writes the reply clip next to the recordings, best effort.
func (a *Assistant) saveResponse(id string, clip []byte) {
	if a.responsesDir == "" {
		return
	}
	path := filepath.Join(a.responsesDir, fmt.Sprintf("response_%s.wav", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, clip, 0o644); err != nil {
		a.log.Warn("assistant: save response failed", "id", id, "path", path, "error", err)
		return
	}
	a.log.Debug("assistant: response saved", "id", id, "path", path)
}

// speak synthesizes text and plays it.
func (a *Assistant) speak(ctx context.Context, text string) error {
	clip, err := a.synthesize(ctx, text)
	if err != nil {
		return err
	}
	return a.play(ctx, clip)
}

// apologize speaks line, or the persona apology when line is empty.
// Failures are logged and swallowed so an apology never cascades.
func (a *Assistant) apologize(ctx context.Context, line string) {
	if line == "" {
		line = a.Persona().Apology
	}
	if err := a.speak(ctx, line); err != nil {
		a.log.Error("assistant: apology failed", "error", err)
	}
}

// play feeds one WAV clip through the playback stream and waits for it to
// drain. Clips the stream cannot take (a different PCM format, or a
// container DecodeWAV does not understand) go to the direct sink so they
// keep their own sample rate; the stream is flushed first so local and
// relayed audio stay serialized. Without a sink, foreign-format PCM is
// converted to the stream format so it still plays at pitch.
func (a *Assistant) play(ctx context.Context, clip []byte) error {
	pcm, format, err := audio.DecodeWAV(clip)
	if err != nil {
		if a.sink != nil {
			return a.sink.Play(ctx, clip)
		}
		return fmt.Errorf("assistant: decode clip: %w", err)
	}

	if format != a.format {
		if a.sink != nil {
			if err := a.player.Flush(ctx); err != nil {
				return err
			}
			return a.sink.Play(ctx, clip)
		}
		a.log.Warn("assistant: converting clip to stream format",
			"clip_rate", format.SampleRate, "clip_channels", format.Channels,
			"stream_rate", a.format.SampleRate, "stream_channels", a.format.Channels,
		)
		conv := audio.Converter{Target: a.format}
		pcm = conv.Convert(pcm, format)
	}

	if err := a.player.Append(pcm); err != nil {
		return err
	}
	return a.player.Flush(ctx)
}

// drainEvents discards queued trigger events without blocking.
func drainEvents(events <-chan trigger.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
