// Package history persists the rolling conversation between the user and the
// assistant so that replies stay coherent across turns and across restarts.
//
// A history is an ordered list of [types.Message] values, oldest first, holding
// only user and assistant turns. System prompts are supplied per request by the
// caller and never stored. Stores trim on write: after every append only the
// most recent MaxTurns exchanges (MaxTurns×2 messages) survive, so the file or
// table stays bounded no matter how long the appliance runs.
//
// Two backends are provided: [FileStore] for the single-board default (one
// JSON file next to the binary) and [PGStore] for deployments that already run
// PostgreSQL. Both are safe for concurrent use.
package history

import (
	"context"

	"github.com/parleylabs/parley/pkg/types"
)

// DefaultMaxTurns bounds the stored conversation when no option overrides it.
const DefaultMaxTurns = 10

// Store is a rolling conversation log.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the stored conversation, oldest message first.
	// Returns an empty (non-nil) slice when no history exists yet.
	Load(ctx context.Context) ([]types.Message, error)

	// Append persists one completed exchange (the user turn and the
	// assistant's reply) and trims the store to its turn budget.
	Append(ctx context.Context, user, assistant types.Message) error

	// Clear removes all stored messages. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error
}

type config struct {
	maxTurns int
}

// Option configures a history store.
type Option func(*config)

// WithMaxTurns sets how many exchanges are retained after each append.
// Values <= 0 disable trimming entirely. Default is [DefaultMaxTurns].
func WithMaxTurns(n int) Option {
	return func(c *config) { c.maxTurns = n }
}

// trim drops the oldest messages until at most maxTurns exchanges remain.
func trim(msgs []types.Message, maxTurns int) []types.Message {
	if maxTurns <= 0 {
		return msgs
	}
	keep := maxTurns * 2
	if len(msgs) <= keep {
		return msgs
	}
	return msgs[len(msgs)-keep:]
}
