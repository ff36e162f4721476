package resilience

import (
	"context"

	"github.com/parleylabs/parley/pkg/provider/stt"
)

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple transcription backends, each behind its own breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// NewTranscriberFallback creates a fallback chain with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber, tried after the primary.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe runs the recording through the first healthy backend.
func (f *TranscriberFallback) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, audioPath)
	})
}

// Healthy reports whether any transcription backend is admitting calls.
func (f *TranscriberFallback) Healthy() error {
	return f.group.Healthy()
}
