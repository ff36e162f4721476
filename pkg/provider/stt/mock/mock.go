// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to feed controlled transcripts and inspect which audio
// files were submitted, without a live STT backend.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "turn on the lights"}
//	text, _ := tr.Transcribe(ctx, "/tmp/recording.wav")
package mock

import (
	"context"
	"sync"

	"github.com/parleylabs/parley/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// AudioPath is the file path passed to Transcribe.
	AudioPath string
}

// Transcriber is a mock implementation of stt.Transcriber.
// Zero values cause Transcribe to return "" and a nil error.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Texts is exhausted or empty.
	Text string

	// Texts, when non-empty, scripts successive Transcribe results in order.
	Texts []string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted text.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, TranscribeCall{Ctx: ctx, AudioPath: audioPath})
	if t.Err != nil {
		return "", t.Err
	}
	if t.next < len(t.Texts) {
		text := t.Texts[t.next]
		t.next++
		return text, nil
	}
	return t.Text, nil
}

// Reset clears all recorded calls and scripted progress. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
	t.next = 0
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
