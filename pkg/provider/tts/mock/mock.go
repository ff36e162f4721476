// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to feed controlled WAV clips and inspect the texts the
// assistant asks to speak, without a live TTS backend.
//
// Example:
//
//	s := &mock.Synthesizer{WAV: audio.EncodeWAV(pcm, format)}
//	clip, _ := s.Synthesize(ctx, "Hello there.")
package mock

import (
	"context"
	"sync"

	"github.com/parleylabs/parley/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the input passed to Synthesize.
	Text string
}

// Synthesizer is a mock implementation of tts.Synthesizer.
// Zero values cause Synthesize to return nil and a nil error.
type Synthesizer struct {
	mu sync.Mutex

	// WAV is returned by Synthesize. Callers receive a fresh copy per call.
	WAV []byte

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns a copy of WAV, Err.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, SynthesizeCall{Ctx: ctx, Text: text})
	if s.Err != nil {
		return nil, s.Err
	}
	if s.WAV == nil {
		return nil, nil
	}
	out := make([]byte, len(s.WAV))
	copy(out, s.WAV)
	return out, nil
}

// Texts returns the text of every recorded call in order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
