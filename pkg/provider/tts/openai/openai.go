// Package openai provides a Synthesizer backed by the OpenAI speech API
// (tts-1 and compatible models).
//
// Synthesized clips are cached in a small LRU keyed by the input text, so
// recurring phrases such as the startup greeting and the canned apologies
// cost one API call each for the lifetime of the process.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parleylabs/parley/pkg/provider/tts"
)

const defaultCacheSize = 64

// Synthesizer implements tts.Synthesizer using the OpenAI API.
type Synthesizer struct {
	client oai.Client
	model  string
	voice  string
	cache  *lru.Cache[string, []byte]
}

// config holds optional configuration for the synthesizer.
type config struct {
	model     string
	voice     string
	baseURL   string
	timeout   time.Duration
	cacheSize int
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithModel overrides the default "tts-1" model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithVoice sets the voice preset (alloy, echo, fable, onyx, nova, shimmer).
// Defaults to "alloy".
func WithVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithCacheSize sets the clip cache capacity in entries. Zero disables
// caching. Defaults to 64.
func WithCacheSize(n int) Option {
	return func(c *config) {
		c.cacheSize = n
	}
}

// New constructs an OpenAI speech Synthesizer.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:     string(oai.SpeechModelTTS1),
		voice:     string(oai.AudioSpeechNewParamsVoiceAlloy),
		cacheSize: defaultCacheSize,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	s := &Synthesizer{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
	}
	if cfg.cacheSize > 0 {
		cache, err := lru.New[string, []byte](cfg.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("openai: create clip cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("openai: text must not be empty")
	}

	if s.cache != nil {
		if wav, ok := s.cache.Get(text); ok {
			return bytes.Clone(wav), nil
		}
	}

	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(s.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: speech synthesis: %w", err)
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech response: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("openai: empty speech response")
	}

	if s.cache != nil {
		s.cache.Add(text, bytes.Clone(wav))
	}
	return wav, nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
