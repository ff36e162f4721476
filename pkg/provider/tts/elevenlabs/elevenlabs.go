// Package elevenlabs provides a Synthesizer backed by the ElevenLabs
// text-to-speech API.
//
// ElevenLabs returns raw PCM rather than a container, so the synthesizer
// requests pcm_24000 by default (matching the playback stream) and wraps the
// samples in a WAV header itself. Clips are cached in a small LRU keyed by
// the input text, same as the openai synthesizer.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/parleylabs/parley/pkg/audio"
	"github.com/parleylabs/parley/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
	defaultCacheSize = 64

	// defaultVoiceID is "Rachel", the stock ElevenLabs voice.
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// Synthesizer implements tts.Synthesizer using the ElevenLabs API.
type Synthesizer struct {
	apiKey     string
	model      string
	voiceID    string
	baseURL    string
	sampleRate int
	client     *http.Client
	cache      *lru.Cache[string, []byte]
}

// config holds optional configuration for the synthesizer.
type config struct {
	model        string
	voiceID      string
	outputFormat string
	baseURL      string
	timeout      time.Duration
	cacheSize    int
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithModel overrides the default "eleven_flash_v2_5" model ID.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithVoice sets the ElevenLabs voice ID. Defaults to the stock "Rachel"
// voice.
func WithVoice(voiceID string) Option {
	return func(c *config) {
		c.voiceID = voiceID
	}
}

// WithOutputFormat sets the PCM output format (e.g., "pcm_16000",
// "pcm_24000"). The trailing number is the sample rate of the returned clip.
func WithOutputFormat(format string) Option {
	return func(c *config) {
		c.outputFormat = format
	}
}

// WithBaseURL overrides the default API base URL.
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

// WithCacheSize sets the clip cache capacity in entries. Zero disables
// caching. Defaults to 64.
func WithCacheSize(n int) Option {
	return func(c *config) {
		c.cacheSize = n
	}
}

// New constructs an ElevenLabs Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey must not be empty")
	}

	cfg := &config{
		model:        defaultModel,
		voiceID:      defaultVoiceID,
		outputFormat: defaultOutputFmt,
		cacheSize:    defaultCacheSize,
	}
	for _, o := range opts {
		o(cfg)
	}

	rate, err := pcmRate(cfg.outputFormat)
	if err != nil {
		return nil, err
	}

	client := &http.Client{}
	if cfg.timeout > 0 {
		client.Timeout = cfg.timeout
	}

	s := &Synthesizer{
		apiKey:     apiKey,
		model:      cfg.model,
		voiceID:    cfg.voiceID,
		baseURL:    strings.TrimRight(cfg.baseURL, "/"),
		sampleRate: rate,
		client:     client,
	}
	if s.baseURL == "" {
		s.baseURL = defaultBaseURL
	}
	if cfg.cacheSize > 0 {
		cache, err := lru.New[string, []byte](cfg.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: create clip cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// pcmRate extracts the sample rate from an ElevenLabs pcm_* format name.
func pcmRate(format string) (int, error) {
	suffix, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM", format)
	}
	rate, err := strconv.Atoi(suffix)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: output format %q has no sample rate", format)
	}
	return rate, nil
}

// synthesisRequest is the JSON payload sent to the text-to-speech endpoint.
type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("elevenlabs: text must not be empty")
	}

	if s.cache != nil {
		if wav, ok := s.cache.Get(text); ok {
			return bytes.Clone(wav), nil
		}
	}

	payload, err := json.Marshal(synthesisRequest{Text: text, ModelID: s.model})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d", s.baseURL, s.voiceID, s.sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: speech synthesis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs: speech synthesis: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read speech response: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("elevenlabs: empty speech response")
	}

	wav := audio.EncodeWAV(pcm, audio.Format{SampleRate: s.sampleRate, Channels: 1})
	if s.cache != nil {
		s.cache.Add(text, bytes.Clone(wav))
	}
	return wav, nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
