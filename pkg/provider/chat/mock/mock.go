// Package mock provides a test double for the chat.Responder interface.
//
// Use Responder to feed controlled replies and inspect the conversation
// histories the assistant sends, without a live LLM backend.
//
// Example:
//
//	r := &mock.Responder{Reply: "The lights are off."}
//	text, _ := r.Reply(ctx, messages)
package mock

import (
	"context"
	"sync"

	"github.com/parleylabs/parley/pkg/provider/chat"
	"github.com/parleylabs/parley/pkg/types"
)

// ReplyCall records a single invocation of Reply.
type ReplyCall struct {
	// Ctx is the context passed to Reply.
	Ctx context.Context
	// Messages is a copy of the history passed to Reply.
	Messages []types.Message
}

// Responder is a mock implementation of chat.Responder.
// Zero values cause Reply to return "" and a nil error.
type Responder struct {
	mu sync.Mutex

	// Text is returned by Reply when Texts is exhausted or empty.
	Text string

	// Texts, when non-empty, scripts successive Reply results in order.
	Texts []string

	// Err, if non-nil, is returned as the error from Reply.
	Err error

	// Calls records every invocation of Reply in order.
	Calls []ReplyCall

	next int
}

// Reply records the call and returns the next scripted text.
func (r *Responder) Reply(ctx context.Context, messages []types.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := make([]types.Message, len(messages))
	copy(msgs, messages)
	r.Calls = append(r.Calls, ReplyCall{Ctx: ctx, Messages: msgs})
	if r.Err != nil {
		return "", r.Err
	}
	if r.next < len(r.Texts) {
		text := r.Texts[r.next]
		r.next++
		return text, nil
	}
	return r.Text, nil
}

// Reset clears all recorded calls and scripted progress. Thread-safe.
func (r *Responder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
	r.next = 0
}

// Ensure Responder implements chat.Responder at compile time.
var _ chat.Responder = (*Responder)(nil)
