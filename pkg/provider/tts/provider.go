// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI tts-1, or a
// local engine) and turns a reply string into a complete WAV clip for the
// playback pipeline. Parley plays one short utterance per turn, so the
// interface is batch rather than streaming; low-latency pipelining is not
// worth the coupling at these clip lengths.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package tts

import "context"

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize renders text as speech and returns a complete WAV file
	// (header plus 16-bit PCM payload). The caller owns the returned slice.
	//
	// Returns an error if text is empty, the backend rejects the request, or
	// ctx is cancelled before the audio arrives.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
