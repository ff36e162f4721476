// Package anyllm provides a universal chat Responder backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It lets the appliance swap its conversation backend through
// configuration alone.
//
// Usage:
//
//	r, err := anyllm.New("openai", "gpt-3.5-turbo",
//	    anyllm.WithBackendOptions(anyllmlib.WithAPIKey("sk-...")))
//	r, err := anyllm.NewOllama("llama3.2")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/parleylabs/parley/pkg/provider/chat"
	"github.com/parleylabs/parley/pkg/types"
)

// Responder implements chat.Responder by wrapping github.com/mozilla-ai/any-llm-go.
type Responder struct {
	backend     anyllmlib.Provider
	model       string
	temperature float64
	maxTokens   int
}

// config holds optional configuration for the responder.
type config struct {
	backendOpts []anyllmlib.Option
	temperature float64
	maxTokens   int
}

// Option is a functional option for Responder.
type Option func(*config)

// WithBackendOptions passes configuration through to the underlying
// any-llm-go provider (e.g., anyllmlib.WithAPIKey, anyllmlib.WithBaseURL).
// If no API key option is provided, the backend falls back to its usual
// environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on).
func WithBackendOptions(opts ...anyllmlib.Option) Option {
	return func(c *config) {
		c.backendOpts = append(c.backendOpts, opts...)
	}
}

// WithTemperature sets the sampling temperature. Defaults to 0.7.
func WithTemperature(t float64) Option {
	return func(c *config) {
		c.temperature = t
	}
}

// WithMaxTokens caps the completion length in tokens. Spoken replies should
// stay short. Defaults to 150.
func WithMaxTokens(n int) Option {
	return func(c *config) {
		c.maxTokens = n
	}
}

// New creates a Responder backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-3.5-turbo", "llama3.2").
func New(providerName, model string, opts ...Option) (*Responder, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	cfg := &config{temperature: 0.7, maxTokens: 150}
	for _, o := range opts {
		o(cfg)
	}

	backend, err := createBackend(providerName, cfg.backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Responder{
		backend:     backend,
		model:       model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
	}, nil
}

// NewOpenAI creates a Responder backed by OpenAI.
// Without backend options, it reads the OPENAI_API_KEY environment variable.
func NewOpenAI(model string, opts ...Option) (*Responder, error) {
	return New("openai", model, opts...)
}

// NewAnthropic creates a Responder backed by Anthropic.
// Without backend options, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(model string, opts ...Option) (*Responder, error) {
	return New("anthropic", model, opts...)
}

// NewOllama creates a Responder backed by Ollama (local inference).
// Without backend options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...Option) (*Responder, error) {
	return New("ollama", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Reply implements chat.Responder.
func (r *Responder) Reply(ctx context.Context, messages []types.Message) (string, error) {
	params, err := r.buildParams(messages)
	if err != nil {
		return "", fmt.Errorf("anyllm: build params: %w", err)
	}

	resp, err := r.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

// buildParams converts a message history into anyllm CompletionParams.
func (r *Responder) buildParams(messages []types.Message) (anyllmlib.CompletionParams, error) {
	if len(messages) == 0 {
		return anyllmlib.CompletionParams{}, fmt.Errorf("messages must not be empty")
	}

	converted := make([]anyllmlib.Message, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    r.model,
		Messages: converted,
	}
	if r.temperature != 0 {
		t := r.temperature
		params.Temperature = &t
	}
	if r.maxTokens > 0 {
		mt := r.maxTokens
		params.MaxTokens = &mt
	}
	return params, nil
}

// Ensure Responder implements chat.Responder at compile time.
var _ chat.Responder = (*Responder)(nil)
