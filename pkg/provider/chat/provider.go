// Package chat defines the Responder interface for conversational backends.
//
// A chat provider wraps a remote or local language model API (e.g., OpenAI
// GPT, Anthropic Claude, or an Ollama instance) and exposes a uniform
// interface for the assistant to turn a conversation history into the next
// spoken reply, without coupling to any specific SDK.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package chat

import (
	"context"

	"github.com/parleylabs/parley/pkg/types"
)

// Responder is the abstraction over any conversational backend.
type Responder interface {
	// Reply sends the ordered conversation history to the model and returns
	// the assistant's next utterance. The history typically starts with a
	// system message and ends with the latest user message.
	//
	// Returns an error if messages is empty, the request fails, or ctx is
	// cancelled before the completion arrives.
	Reply(ctx context.Context, messages []types.Message) (string, error)
}
