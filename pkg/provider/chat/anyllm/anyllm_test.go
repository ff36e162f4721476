package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/parleylabs/parley/pkg/types"
)

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "gpt-3.5-turbo")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", WithBackendOptions(anyllmlib.WithAPIKey("dummy")))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_OpenAI_WithAPIKey checks that OpenAI constructs successfully with an API key.
func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	r, err := New("openai", "gpt-3.5-turbo", WithBackendOptions(anyllmlib.WithAPIKey("sk-test")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r == nil {
		t.Fatal("expected non-nil responder")
	}
	if r.model != "gpt-3.5-turbo" {
		t.Errorf("expected model gpt-3.5-turbo, got %q", r.model)
	}
}

// TestNew_OpenAI_MissingAPIKey checks that OpenAI errors when no API key is available.
// This relies on OPENAI_API_KEY not being set in the test environment.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "") // Ensure env var is clear.
	_, err := New("openai", "gpt-3.5-turbo")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

// TestNew_TuningDefaults checks the spoken-reply defaults.
func TestNew_TuningDefaults(t *testing.T) {
	r, err := NewOllama("llama3.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", r.temperature)
	}
	if r.maxTokens != 150 {
		t.Errorf("expected maxTokens 150, got %d", r.maxTokens)
	}
}

// TestNew_TuningOptions checks WithTemperature and WithMaxTokens.
func TestNew_TuningOptions(t *testing.T) {
	r, err := NewOllama("llama3.2", WithTemperature(0.2), WithMaxTokens(64))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", r.temperature)
	}
	if r.maxTokens != 64 {
		t.Errorf("expected maxTokens 64, got %d", r.maxTokens)
	}
}

// TestConvenienceConstructors checks all convenience constructors delegate correctly.
func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Responder, error)
	}{
		{"NewOpenAI", func() (*Responder, error) {
			return NewOpenAI("gpt-3.5-turbo", WithBackendOptions(anyllmlib.WithAPIKey("sk-test")))
		}},
		{"NewAnthropic", func() (*Responder, error) {
			return NewAnthropic("claude-3-5-sonnet-latest", WithBackendOptions(anyllmlib.WithAPIKey("sk-ant-test")))
		}},
		{"NewOllama", func() (*Responder, error) { return NewOllama("llama3.2") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.fn()
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt.name, err)
			}
			if r == nil {
				t.Fatalf("%s: expected non-nil responder", tt.name)
			}
		})
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

// TestBuildParams_EmptyHistory checks that an empty message list is rejected.
func TestBuildParams_EmptyHistory(t *testing.T) {
	r := &Responder{model: "gpt-3.5-turbo"}
	if _, err := r.buildParams(nil); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

// TestBuildParams_ConvertsRolesAndContent checks the message mapping.
func TestBuildParams_ConvertsRolesAndContent(t *testing.T) {
	r := &Responder{model: "gpt-3.5-turbo", temperature: 0.7, maxTokens: 150}
	params, err := r.buildParams([]types.Message{
		types.System("You are a helpful voice assistant."),
		types.User("Is the heating on?"),
		types.Assistant("Yes, set to 21 degrees."),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Model != "gpt-3.5-turbo" {
		t.Errorf("expected model gpt-3.5-turbo, got %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != "system" {
		t.Errorf("expected first role system, got %q", params.Messages[0].Role)
	}
	if params.Messages[1].ContentString() != "Is the heating on?" {
		t.Errorf("unexpected user content %q", params.Messages[1].ContentString())
	}
	if params.Messages[2].Role != "assistant" {
		t.Errorf("expected third role assistant, got %q", params.Messages[2].Role)
	}
}

// TestBuildParams_CarriesTuning checks temperature and max tokens pointers.
func TestBuildParams_CarriesTuning(t *testing.T) {
	r := &Responder{model: "gpt-3.5-turbo", temperature: 0.7, maxTokens: 150}
	params, err := r.buildParams([]types.Message{types.User("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("expected temperature pointer to 0.7, got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("expected maxTokens pointer to 150, got %v", params.MaxTokens)
	}
}

// TestBuildParams_ZeroTuningOmitted checks that zero values are not sent.
func TestBuildParams_ZeroTuningOmitted(t *testing.T) {
	r := &Responder{model: "gpt-3.5-turbo"}
	params, err := r.buildParams([]types.Message{types.User("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Temperature != nil {
		t.Errorf("expected nil temperature, got %v", *params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("expected nil maxTokens, got %v", *params.MaxTokens)
	}
}
