package resilience

import (
	"context"

	"github.com/parleylabs/parley/pkg/provider/chat"
	"github.com/parleylabs/parley/pkg/types"
)

var _ chat.Responder = (*ResponderFallback)(nil)

// ResponderFallback implements [chat.Responder] with automatic failover across
// multiple chat backends, each behind its own breaker. Typical wiring pairs a
// cloud model with a local ollama instance so the appliance still answers when
// the network is down.
type ResponderFallback struct {
	group *FallbackGroup[chat.Responder]
}

// NewResponderFallback creates a fallback chain with primary as the preferred
// backend.
func NewResponderFallback(primary chat.Responder, primaryName string, cfg FallbackConfig) *ResponderFallback {
	return &ResponderFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional responder, tried after the primary.
func (f *ResponderFallback) AddFallback(name string, r chat.Responder) {
	f.group.AddFallback(name, r)
}

// Reply sends the conversation to the first healthy backend.
func (f *ResponderFallback) Reply(ctx context.Context, messages []types.Message) (string, error) {
	return ExecuteWithResult(f.group, func(r chat.Responder) (string, error) {
		return r.Reply(ctx, messages)
	})
}

// Healthy reports whether any chat backend is admitting calls.
func (f *ResponderFallback) Healthy() error {
	return f.group.Healthy()
}
