package resilience

import (
	"context"

	"github.com/parleylabs/parley/pkg/provider/tts"
)

var _ tts.Synthesizer = (*SynthesizerFallback)(nil)

// SynthesizerFallback implements [tts.Synthesizer] with automatic failover
// across multiple synthesis backends. The standard wiring puts the beep
// synthesizer last so the appliance always produces audible output, even when
// every speech service is unreachable.
type SynthesizerFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// NewSynthesizerFallback creates a fallback chain with primary as the
// preferred backend.
func NewSynthesizerFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer, tried after the primary.
func (f *SynthesizerFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize renders text through the first healthy backend.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text)
	})
}

// Healthy reports whether any synthesis backend is admitting calls.
func (f *SynthesizerFallback) Healthy() error {
	return f.group.Healthy()
}
