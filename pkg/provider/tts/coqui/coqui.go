// Package coqui provides a Synthesizer backed by a local Coqui TTS server
// (the ghcr.io/coqui-ai/tts-cpu Docker image). Synthesis is one GET /api/tts
// per utterance and the server answers with a complete WAV clip, which is
// exactly Parley's Synthesizer contract, so the clip passes through
// unmodified. The server picks its own sample rate (typically 22.05 kHz);
// the playback path routes such clips to the direct sink.
//
// A Coqui server on the LAN keeps the whole reply path offline, the usual
// pairing being whisper.cpp for transcription and Ollama for chat.
package coqui

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parleylabs/parley/pkg/audio"
	"github.com/parleylabs/parley/pkg/provider/tts"
)

const defaultTimeout = 30 * time.Second

// Synthesizer implements tts.Synthesizer against a Coqui TTS server.
type Synthesizer struct {
	baseURL  string
	speaker  string
	language string
	client   *http.Client
}

// Option is a functional option for Synthesizer.
type Option func(*Synthesizer)

// WithSpeaker sets the speaker ID for multi-speaker models (e.g., "p225").
// Empty uses the model's default voice.
func WithSpeaker(id string) Option {
	return func(s *Synthesizer) {
		s.speaker = id
	}
}

// WithLanguage sets the language ID for multilingual models. Empty uses the
// model's default.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) {
		s.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s; CPU
// synthesis of a long reply can take a while.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.client.Timeout = d
	}
}

// New constructs a Synthesizer talking to the Coqui server at baseURL
// (e.g., "http://localhost:5002").
func New(baseURL string, opts ...Option) (*Synthesizer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("coqui: baseURL must not be empty")
	}
	s := &Synthesizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("coqui: text must not be empty")
	}

	q := url.Values{}
	q.Set("text", text)
	if s.speaker != "" {
		q.Set("speaker_id", s.speaker)
	}
	if s.language != "" {
		q.Set("language_id", s.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: speech synthesis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("coqui: speech synthesis: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read speech response: %w", err)
	}

	// Reject non-audio replies (an HTML error page, say) before they reach
	// the playback path.
	if _, _, err := audio.DecodeWAV(wav); err != nil {
		return nil, fmt.Errorf("coqui: server reply is not playable WAV: %w", err)
	}
	return wav, nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
