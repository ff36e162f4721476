// Package stt defines the Transcriber interface for speech-to-text backends.
//
// An STT provider wraps a transcription service (e.g., OpenAI Whisper, or a
// local whisper.cpp server) and exposes a uniform batch interface: the
// capture pipeline hands over a finished WAV recording and receives the
// recognised text. Parley endpoints utterances itself, so there is no
// streaming session to manage; one file in, one string out.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package stt

import "context"

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe reads the audio file at audioPath and returns the recognised
	// text with surrounding whitespace trimmed. An empty string with a nil
	// error means the backend heard nothing intelligible.
	//
	// Returns an error if the file cannot be read, the backend rejects the
	// request, or ctx is cancelled before the result arrives.
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
