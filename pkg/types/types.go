// Package types defines the shared types used across all Parley packages.
//
// These types are the lingua franca between the providers, the conversation
// history store, and the assistant loop. Each package defines its own domain
// types; only cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// Conversation roles as used by chat backends and the history store.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a conversation. The JSON tags define the
// on-disk history format.
type Message struct {
	// Role is one of RoleSystem, RoleUser, or RoleAssistant.
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// System returns a system-role message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User returns a user-role message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant returns an assistant-role message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Exchange is one completed voice turn: what the user said, what the
// assistant answered, and where the audio ended up. The assistant emits one
// Exchange per turn for transcript logging.
type Exchange struct {
	// UserText is the transcribed user utterance.
	UserText string `json:"user_text"`

	// AssistantText is the reply that was synthesized and played.
	AssistantText string `json:"assistant_text"`

	// AudioPath is the recorded utterance WAV on disk.
	AudioPath string `json:"audio_path,omitempty"`

	// AudioDuration is the length of the recorded utterance.
	AudioDuration time.Duration `json:"audio_duration,omitempty"`

	// Timestamp is when the turn completed.
	Timestamp time.Time `json:"timestamp"`
}
