package resilience

import (
	"context"
	"errors"
	"testing"

	chatmock "github.com/parleylabs/parley/pkg/provider/chat/mock"
	"github.com/parleylabs/parley/pkg/types"
)

func TestResponderFallback_PrimarySuccess(t *testing.T) {
	primary := &chatmock.Responder{Text: "hello from primary"}
	secondary := &chatmock.Responder{Text: "hello from fallback"}

	fb := NewResponderFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	history := []types.Message{
		types.System("You are a helpful voice assistant."),
		types.User("hello"),
	}
	reply, err := fb.Reply(context.Background(), history)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "hello from primary" {
		t.Fatalf("reply = %q, want primary's reply", reply)
	}
	if len(primary.Calls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.Calls))
	}
	if len(secondary.Calls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls))
	}
}

func TestResponderFallback_Failover_PassesHistoryThrough(t *testing.T) {
	primary := &chatmock.Responder{Err: errors.New("chat service down")}
	secondary := &chatmock.Responder{Text: "hello from fallback"}

	fb := NewResponderFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	history := []types.Message{
		types.System("You are a helpful voice assistant."),
		types.User("hello"),
	}
	reply, err := fb.Reply(context.Background(), history)
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "hello from fallback" {
		t.Fatalf("reply = %q, want fallback's reply", reply)
	}
	if len(secondary.Calls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.Calls))
	}
	got := secondary.Calls[0].Messages
	if len(got) != 2 || got[1].Content != "hello" {
		t.Fatalf("fallback received messages %+v, want the original history", got)
	}
}

func TestResponderFallback_AllFail(t *testing.T) {
	primary := &chatmock.Responder{Err: errors.New("primary down")}
	secondary := &chatmock.Responder{Err: errors.New("secondary down")}

	fb := NewResponderFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Reply(context.Background(), []types.Message{types.User("hello")})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
