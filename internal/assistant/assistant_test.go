package assistant_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/parleylabs/parley/internal/assistant"
	"github.com/parleylabs/parley/internal/capture"
	"github.com/parleylabs/parley/internal/history"
	"github.com/parleylabs/parley/internal/trigger"
	"github.com/parleylabs/parley/pkg/audio"
	audiomock "github.com/parleylabs/parley/pkg/audio/mock"
	chatmock "github.com/parleylabs/parley/pkg/provider/chat/mock"
	sttmock "github.com/parleylabs/parley/pkg/provider/stt/mock"
	ttsmock "github.com/parleylabs/parley/pkg/provider/tts/mock"
	"github.com/parleylabs/parley/pkg/types"
)

// streamFormat matches the assistant's default playback format.
var streamFormat = audio.Format{SampleRate: 24000, Channels: 1}

// testClip returns a short WAV clip in the given format.
func testClip(format audio.Format) []byte {
	pcm := bytes.Repeat([]byte{0x34, 0x12}, format.SampleRate/10)
	return audio.EncodeWAV(pcm, format)
}

type fakeTrigger struct {
	ch   chan trigger.Event
	once sync.Once
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{ch: make(chan trigger.Event, 4)}
}

func (f *fakeTrigger) Events() <-chan trigger.Event { return f.ch }

func (f *fakeTrigger) Close() error {
	f.once.Do(func() { close(f.ch) })
	return nil
}

func (f *fakeTrigger) press() {
	f.ch <- trigger.Event{Time: time.Now()}
}

type fakeRecorder struct {
	mu    sync.Mutex
	rec   *capture.Recording
	err   error
	gate  chan struct{}
	calls int
}

func (r *fakeRecorder) Record(ctx context.Context) (*capture.Recording, error) {
	r.mu.Lock()
	r.calls++
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.rec, nil
}

type fakePlayer struct {
	mu       sync.Mutex
	appended [][]byte
	flushes  int
}

func (p *fakePlayer) Append(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.appended = append(p.appended, cp)
	return nil
}

func (p *fakePlayer) Flush(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *fakePlayer) clips() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.appended))
	copy(out, p.appended)
	return out
}

type fakeRelay struct {
	mu    sync.Mutex
	ok    bool
	paths []string
}

func (r *fakeRelay) SendAudio(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return r.ok
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []types.Exchange
}

func (j *fakeJournal) Record(_ context.Context, ex types.Exchange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, ex)
	return nil
}

func (j *fakeJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// failingStore fails Load but accepts Append, for degraded-memory paths.
type failingStore struct {
	mu       sync.Mutex
	appended int
}

func (s *failingStore) Load(context.Context) ([]types.Message, error) {
	return nil, errors.New("disk on fire")
}

func (s *failingStore) Append(context.Context, types.Message, types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended++
	return nil
}

func (s *failingStore) Clear(context.Context) error { return nil }

type harness struct {
	trigger  *fakeTrigger
	recorder *fakeRecorder
	sttm     *sttmock.Transcriber
	chatm    *chatmock.Responder
	ttsm     *ttsmock.Synthesizer
	player   *fakePlayer
	relay    *fakeRelay
	journal  *fakeJournal
	store    *history.FileStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := history.NewFileStore(filepath.Join(t.TempDir(), "history.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return &harness{
		trigger: newFakeTrigger(),
		recorder: &fakeRecorder{rec: &capture.Recording{
			ID:       "rec-1",
			Path:     "/tmp/recording_rec-1.wav",
			Chunks:   12,
			Duration: 800 * time.Millisecond,
			Reason:   capture.ReasonSilence,
		}},
		sttm:    &sttmock.Transcriber{Text: "what time is it"},
		chatm:   &chatmock.Responder{Text: "It is almost noon."},
		ttsm:    &ttsmock.Synthesizer{WAV: testClip(streamFormat)},
		player:  &fakePlayer{},
		relay:   &fakeRelay{ok: true},
		journal: &fakeJournal{},
		store:   store,
	}
}

func (h *harness) build(t *testing.T, opts ...assistant.Option) *assistant.Assistant {
	t.Helper()
	a, err := assistant.New(assistant.Pipeline{
		Triggers: h.trigger,
		Recorder: h.recorder,
		STT:      h.sttm,
		Chat:     h.chatm,
		TTS:      h.ttsm,
		Player:   h.player,
		History:  h.store,
		Relay:    h.relay,
		Journal:  h.journal,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNew_RequiresCoreCollaborators(t *testing.T) {
	h := newHarness(t)
	base := assistant.Pipeline{
		Triggers: h.trigger,
		Recorder: h.recorder,
		STT:      h.sttm,
		Chat:     h.chatm,
		TTS:      h.ttsm,
		Player:   h.player,
	}

	tests := []struct {
		name   string
		mutate func(*assistant.Pipeline)
	}{
		{"triggers", func(p *assistant.Pipeline) { p.Triggers = nil }},
		{"recorder", func(p *assistant.Pipeline) { p.Recorder = nil }},
		{"stt", func(p *assistant.Pipeline) { p.STT = nil }},
		{"chat", func(p *assistant.Pipeline) { p.Chat = nil }},
		{"tts", func(p *assistant.Pipeline) { p.TTS = nil }},
		{"player", func(p *assistant.Pipeline) { p.Player = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			if _, err := assistant.New(p); err == nil {
				t.Fatalf("New without %s: want error", tc.name)
			}
		})
	}

	if _, err := assistant.New(base); err != nil {
		t.Fatalf("New with only core collaborators: %v", err)
	}
}

func TestGreet_SpeaksDefaultGreeting(t *testing.T) {
	h := newHarness(t)
	a := h.build(t)

	if err := a.Greet(context.Background()); err != nil {
		t.Fatalf("Greet: %v", err)
	}

	texts := h.ttsm.Texts()
	if len(texts) != 1 || texts[0] != assistant.DefaultGreeting {
		t.Fatalf("synthesized %q, want the default greeting", texts)
	}
	if len(h.player.clips()) != 1 {
		t.Fatalf("player got %d clips, want 1", len(h.player.clips()))
	}
}

func TestGreet_UsesConfiguredPersona(t *testing.T) {
	h := newHarness(t)
	a := h.build(t, assistant.WithPersona(assistant.Persona{Greeting: "Ahoy, Parley here."}))

	if err := a.Greet(context.Background()); err != nil {
		t.Fatalf("Greet: %v", err)
	}

	texts := h.ttsm.Texts()
	if len(texts) != 1 || texts[0] != "Ahoy, Parley here." {
		t.Fatalf("synthesized %q, want the configured greeting", texts)
	}
}

func TestInteract_FullTurn(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	a := h.build(t, assistant.WithResponsesDir(dir))

	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	// Question relayed before transcription.
	if len(h.relay.paths) != 1 || h.relay.paths[0] != h.recorder.rec.Path {
		t.Errorf("relayed paths = %v, want the recording path", h.relay.paths)
	}

	// Conversation: system prompt first, question last.
	if len(h.chatm.Calls) != 1 {
		t.Fatalf("chat called %d times, want 1", len(h.chatm.Calls))
	}
	conv := h.chatm.Calls[0].Messages
	if conv[0].Role != types.RoleSystem || conv[0].Content != assistant.DefaultSystemPrompt {
		t.Errorf("conversation starts with %+v, want the default system prompt", conv[0])
	}
	last := conv[len(conv)-1]
	if last.Role != types.RoleUser || last.Content != "what time is it" {
		t.Errorf("conversation ends with %+v, want the question", last)
	}

	// Exchange persisted.
	msgs, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("history Load: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "what time is it" || msgs[1].Content != "It is almost noon." {
		t.Errorf("history = %+v, want the stored exchange", msgs)
	}

	// Reply PCM streamed to the player.
	clips := h.player.clips()
	wantPCM, _, _ := audio.DecodeWAV(testClip(streamFormat))
	if len(clips) != 1 || !bytes.Equal(clips[0], wantPCM) {
		t.Errorf("player got %d clips, want the reply PCM", len(clips))
	}

	// Reply clip saved.
	saved, err := filepath.Glob(filepath.Join(dir, "response_*.wav"))
	if err != nil || len(saved) != 1 {
		t.Fatalf("saved responses = %v (err %v), want exactly one", saved, err)
	}

	// Journal entry emitted.
	if h.journal.count() != 1 {
		t.Fatalf("journal entries = %d, want 1", h.journal.count())
	}
	ex := h.journal.entries[0]
	if ex.UserText != "what time is it" || ex.AssistantText != "It is almost noon." {
		t.Errorf("exchange = %+v, want question and answer", ex)
	}
	if ex.AudioPath != h.recorder.rec.Path {
		t.Errorf("exchange audio path = %q, want %q", ex.AudioPath, h.recorder.rec.Path)
	}
}

func TestInteract_HistoryFlowsIntoConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.Append(ctx, types.User("remember the milk"), types.Assistant("Noted.")); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	a := h.build(t)

	if err := a.Interact(ctx); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	conv := h.chatm.Calls[0].Messages
	if len(conv) != 4 {
		t.Fatalf("conversation length = %d, want system + stored exchange + question", len(conv))
	}
	if conv[1].Content != "remember the milk" || conv[2].Content != "Noted." {
		t.Errorf("stored exchange not replayed: %+v", conv[1:3])
	}
}

func TestInteract_TranscriptionFailureSpeaksApology(t *testing.T) {
	h := newHarness(t)
	h.sttm.Err = errors.New("whisper offline")
	a := h.build(t)

	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	texts := h.ttsm.Texts()
	if len(texts) != 1 || texts[0] != "I couldn't understand what you said. Could you please try again?" {
		t.Fatalf("spoken %q, want the transcription apology", texts)
	}
	if len(h.chatm.Calls) != 0 {
		t.Errorf("chat called %d times after STT failure, want 0", len(h.chatm.Calls))
	}
	msgs, _ := h.store.Load(context.Background())
	if len(msgs) != 0 {
		t.Errorf("history = %+v, want empty after a failed turn", msgs)
	}
}

func TestInteract_EmptyTranscriptionSpeaksApology(t *testing.T) {
	h := newHarness(t)
	h.sttm.Text = "   "
	a := h.build(t)

	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	texts := h.ttsm.Texts()
	if len(texts) != 1 || texts[0] != "I couldn't understand what you said. Could you please try again?" {
		t.Fatalf("spoken %q, want the transcription apology", texts)
	}
	if len(h.chatm.Calls) != 0 {
		t.Errorf("chat called on blank transcription")
	}
}

func TestInteract_ChatFailureSpeaksApology(t *testing.T) {
	h := newHarness(t)
	h.chatm.Err = errors.New("model overloaded")
	a := h.build(t)

	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	texts := h.ttsm.Texts()
	if len(texts) != 1 || texts[0] != "I'm having trouble connecting to my brain right now. Please try again later." {
		t.Fatalf("spoken %q, want the chat apology", texts)
	}
	msgs, _ := h.store.Load(context.Background())
	if len(msgs) != 0 {
		t.Errorf("history = %+v, want empty after a failed reply", msgs)
	}
}

func TestInteract_SynthesisFailureRecovers(t *testing.T) {
	h := newHarness(t)
	h.ttsm.Err = errors.New("no voice")
	a := h.build(t)

	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	// The apology hits the same failing synthesizer. Nothing plays, but the
	// assistant is idle again and the exchange survived.
	if len(h.player.clips()) != 0 {
		t.Errorf("player got clips from a failing synthesizer")
	}
	if a.Busy() {
		t.Error("assistant still busy after the turn")
	}
	msgs, _ := h.store.Load(context.Background())
	if len(msgs) != 2 {
		t.Errorf("history = %+v, want the exchange despite failed synthesis", msgs)
	}
}

func TestInteract_EmptyRecordingSpeaksApology(t *testing.T) {
	h := newHarness(t)
	h.recorder.rec = nil
	h.recorder.err = capture.ErrEmptyRecording
	a := h.build(t)

	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	texts := h.ttsm.Texts()
	if len(texts) != 1 || texts[0] != "I couldn't understand what you said. Could you please try again?" {
		t.Fatalf("spoken %q, want the transcription apology", texts)
	}
	if len(h.sttm.Calls) != 0 {
		t.Errorf("transcriber called without a recording")
	}
}

func TestInteract_CaptureFailureSpeaksGenericApology(t *testing.T) {
	h := newHarness(t)
	h.recorder.rec = nil
	h.recorder.err = errors.New("device unplugged")
	a := h.build(t)

	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	texts := h.ttsm.Texts()
	if len(texts) != 1 || texts[0] != assistant.DefaultApology {
		t.Fatalf("spoken %q, want the generic apology", texts)
	}
}

func TestInteract_BusyGuard(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.recorder.gate = gate
	a := h.build(t)

	done := make(chan error, 1)
	go func() { done <- a.Interact(context.Background()) }()
	waitFor(t, a.Busy, "assistant never became busy")

	if err := a.Interact(context.Background()); !errors.Is(err, assistant.ErrBusy) {
		t.Fatalf("second Interact = %v, want ErrBusy", err)
	}
	if err := a.Greet(context.Background()); !errors.Is(err, assistant.ErrBusy) {
		t.Fatalf("Greet during a turn = %v, want ErrBusy", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Interact: %v", err)
	}
	if a.Busy() {
		t.Error("assistant still busy after the turn")
	}
}

func TestInteract_CancelledMidCapture(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	defer close(gate)
	h.recorder.gate = gate
	a := h.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Interact(ctx) }()
	waitFor(t, a.Busy, "assistant never became busy")

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Interact after cancel = %v, want context.Canceled", err)
	}
	if len(h.ttsm.Calls) != 0 {
		t.Errorf("apology spoken for a cancelled turn")
	}
}

func TestInteract_DegradesWhenHistoryLoadFails(t *testing.T) {
	h := newHarness(t)
	broken := &failingStore{}
	a, err := assistant.New(assistant.Pipeline{
		Triggers: h.trigger,
		Recorder: h.recorder,
		STT:      h.sttm,
		Chat:     h.chatm,
		TTS:      h.ttsm,
		Player:   h.player,
		History:  broken,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	conv := h.chatm.Calls[0].Messages
	if len(conv) != 2 {
		t.Fatalf("conversation length = %d, want system + question without memory", len(conv))
	}
	if broken.appended != 1 {
		t.Errorf("append count = %d, want the new exchange stored anyway", broken.appended)
	}
}

func TestSetPersona_AppliesOnNextTurn(t *testing.T) {
	h := newHarness(t)
	a := h.build(t)

	a.SetPersona(assistant.Persona{SystemPrompt: "You are a pirate."})
	if err := a.Interact(context.Background()); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	conv := h.chatm.Calls[0].Messages
	if conv[0].Content != "You are a pirate." {
		t.Errorf("system prompt = %q, want the hot-reloaded persona", conv[0].Content)
	}
	if got := a.Persona().Greeting; got != assistant.DefaultGreeting {
		t.Errorf("greeting = %q, want the default backfilled", got)
	}
}

func TestRun_TriggerDrivesTurn(t *testing.T) {
	h := newHarness(t)
	a := h.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	h.trigger.press()
	waitFor(t, func() bool { return h.journal.count() == 1 }, "turn never completed")

	// Greeting first, then the reply.
	texts := h.ttsm.Texts()
	if len(texts) != 2 || texts[0] != assistant.DefaultGreeting || texts[1] != "It is almost noon." {
		t.Errorf("synthesized %q, want greeting then answer", texts)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}

func TestRun_EndsWhenSourceCloses(t *testing.T) {
	h := newHarness(t)
	a := h.build(t)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	waitFor(t, func() bool { return len(h.ttsm.Texts()) == 1 }, "greeting never spoken")
	h.trigger.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after source close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the trigger source closed")
	}
}

func TestPlayFile_StreamsMatchingWAV(t *testing.T) {
	h := newHarness(t)
	a := h.build(t)

	clip := testClip(streamFormat)
	path := filepath.Join(t.TempDir(), "reply.wav")
	if err := os.WriteFile(path, clip, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	if err := a.PlayFile(context.Background(), path); err != nil {
		t.Fatalf("PlayFile: %v", err)
	}

	clips := h.player.clips()
	wantPCM, _, _ := audio.DecodeWAV(clip)
	if len(clips) != 1 || !bytes.Equal(clips[0], wantPCM) {
		t.Fatalf("player got %d clips, want the file's PCM", len(clips))
	}
}

func TestPlayFile_ForeignFormatUsesSink(t *testing.T) {
	h := newHarness(t)
	sink := &audiomock.Sink{}
	a, err := assistant.New(assistant.Pipeline{
		Triggers: h.trigger,
		Recorder: h.recorder,
		STT:      h.sttm,
		Chat:     h.chatm,
		TTS:      h.ttsm,
		Player:   h.player,
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clip := testClip(audio.Format{SampleRate: 16000, Channels: 1})
	path := filepath.Join(t.TempDir(), "question.wav")
	if err := os.WriteFile(path, clip, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	if err := a.PlayFile(context.Background(), path); err != nil {
		t.Fatalf("PlayFile: %v", err)
	}

	played := sink.Played()
	if len(played) != 1 || !bytes.Equal(played[0], clip) {
		t.Fatalf("sink played %d clips, want the WAV at its own rate", len(played))
	}
	if len(h.player.clips()) != 0 {
		t.Errorf("foreign-format clip also appended to the stream")
	}
}

func TestPlayFile_ForeignFormatNoSinkConvertsToStream(t *testing.T) {
	h := newHarness(t)
	a := h.build(t)

	clip := testClip(audio.Format{SampleRate: 48000, Channels: 1})
	path := filepath.Join(t.TempDir(), "question.wav")
	if err := os.WriteFile(path, clip, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	if err := a.PlayFile(context.Background(), path); err != nil {
		t.Fatalf("PlayFile: %v", err)
	}

	clips := h.player.clips()
	if len(clips) != 1 {
		t.Fatalf("player got %d clips, want 1", len(clips))
	}
	// 48kHz halves to the 24kHz stream rate; the constant fill survives
	// interpolation untouched.
	want := bytes.Repeat([]byte{0x34, 0x12}, 2400)
	if !bytes.Equal(clips[0], want) {
		t.Errorf("converted PCM: got %d bytes, want %d at the stream rate", len(clips[0]), len(want))
	}
}

func TestPlayFile_NonWAVRequiresSink(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "clip.bin")
	if err := os.WriteFile(path, []byte("not audio at all"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	a := h.build(t)
	if err := a.PlayFile(context.Background(), path); err == nil {
		t.Fatal("PlayFile on non-WAV without a sink: want error")
	}

	sink := &audiomock.Sink{}
	a2, err := assistant.New(assistant.Pipeline{
		Triggers: h.trigger,
		Recorder: h.recorder,
		STT:      h.sttm,
		Chat:     h.chatm,
		TTS:      h.ttsm,
		Player:   h.player,
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a2.PlayFile(context.Background(), path); err != nil {
		t.Fatalf("PlayFile with sink: %v", err)
	}
	if len(sink.Played()) != 1 {
		t.Fatalf("sink played %d clips, want the raw bytes handed through", len(sink.Played()))
	}
}

func TestPlayFile_MissingFile(t *testing.T) {
	h := newHarness(t)
	a := h.build(t)

	err := a.PlayFile(context.Background(), filepath.Join(t.TempDir(), "gone.wav"))
	if err == nil {
		t.Fatal("PlayFile on a missing file: want error")
	}
}
