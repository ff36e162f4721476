package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	ttsmock "github.com/parleylabs/parley/pkg/provider/tts/mock"
)

func TestSynthesizerFallback_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Synthesizer{WAV: []byte("primary-wav")}
	secondary := &ttsmock.Synthesizer{WAV: []byte("fallback-wav")}

	fb := NewSynthesizerFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	wav, err := fb.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(wav, []byte("primary-wav")) {
		t.Fatalf("wav = %q, want primary's clip", wav)
	}
	if len(primary.Calls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.Calls))
	}
	if primary.Calls[0].Text != "hello there" {
		t.Fatalf("primary received text %q, want %q", primary.Calls[0].Text, "hello there")
	}
	if len(secondary.Calls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls))
	}
}

// The production chain ends in the beep synthesizer, so a dead speech service
// degrades to a tone instead of silence.
func TestSynthesizerFallback_Failover(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: errors.New("speech service down")}
	secondary := &ttsmock.Synthesizer{WAV: []byte("fallback-wav")}

	fb := NewSynthesizerFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("beep", secondary)

	wav, err := fb.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(wav, []byte("fallback-wav")) {
		t.Fatalf("wav = %q, want fallback's clip", wav)
	}
	if len(primary.Calls) != 1 || len(secondary.Calls) != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", len(primary.Calls), len(secondary.Calls))
	}
}

func TestSynthesizerFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: errors.New("primary down")}
	secondary := &ttsmock.Synthesizer{Err: errors.New("secondary down")}

	fb := NewSynthesizerFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("beep", secondary)

	_, err := fb.Synthesize(context.Background(), "hello there")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
