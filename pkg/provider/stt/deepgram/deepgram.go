// Package deepgram provides a Transcriber backed by the Deepgram prerecorded
// transcription API (nova-3 and compatible models). It is the non-OpenAI
// transcription option, typically configured as a fallback behind whisper.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/parleylabs/parley/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-3"
)

// Transcriber implements stt.Transcriber using the Deepgram API.
type Transcriber struct {
	apiKey   string
	model    string
	language string
	baseURL  string
	client   *http.Client
}

// config holds optional configuration for the transcriber.
type config struct {
	model    string
	language string
	baseURL  string
	timeout  time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithModel overrides the default "nova-3" model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets the BCP-47 recognition language (e.g., "en", "de-DE").
// Empty lets Deepgram detect it.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithBaseURL overrides the default API base URL. Point this at a
// self-hosted Deepgram deployment.
func WithBaseURL(u string) Option {
	return func(c *config) {
		c.baseURL = u
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(cfg)
	}

	client := &http.Client{}
	if cfg.timeout > 0 {
		client.Timeout = cfg.timeout
	}

	return &Transcriber{
		apiKey:   apiKey,
		model:    cfg.model,
		language: cfg.language,
		baseURL:  strings.TrimRight(cfg.baseURL, "/"),
		client:   client,
	}, nil
}

// response mirrors the slice of the Deepgram reply Parley reads.
type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Transcriber. The recording is posted whole to the
// prerecorded endpoint; Deepgram reads the sample rate from the WAV header.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("deepgram: open audio: %w", err)
	}
	defer f.Close()

	q := url.Values{}
	q.Set("model", t.model)
	q.Set("smart_format", "true")
	if t.language != "" {
		q.Set("language", t.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/listen?"+q.Encode(), f)
	if err != nil {
		return "", fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: transcription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("deepgram: transcription: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript), nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
