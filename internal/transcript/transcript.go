// Package transcript keeps an append-only journal of completed voice turns.
//
// The conversation history trims itself to a turn budget so the chat prompt
// stays bounded; the journal is the appliance's flight recorder and keeps
// every turn. Each line is one JSON-encoded [types.Exchange]: the question as
// transcribed, the answer as spoken, and where the recorded audio ended up.
// The format is line-delimited so the file can be tailed, grepped, and
// truncated without tooling.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/parleylabs/parley/pkg/types"
)

// ErrClosed is returned by [Writer.Record] after [Writer.Close].
var ErrClosed = errors.New("transcript: journal closed")

// maxLineSize bounds a single journal line when reading back. A turn with a
// multi-kilobyte answer still fits with room to spare.
const maxLineSize = 1 << 20

// Writer appends exchanges to a journal file. Safe for concurrent use.
type Writer struct {
	log *slog.Logger

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// Option is a functional option for configuring a Writer.
type Option func(*Writer)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(w *Writer) {
		w.log = log
	}
}

// NewWriter opens the journal at path for appending, creating the file and
// its parent directories as needed. Reopening an existing journal continues
// it.
func NewWriter(path string, opts ...Option) (*Writer, error) {
	if path == "" {
		return nil, errors.New("transcript: path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transcript: open journal %s: %w", path, err)
	}
	w := &Writer{
		log: slog.Default(),
		f:   f,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Record appends one exchange as a single JSON line.
func (w *Writer) Record(ctx context.Context, ex types.Exchange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("transcript: encode exchange: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("transcript: append exchange: %w", err)
	}
	return nil
}

// Close closes the journal file. Closing a closed writer is not an error.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

// Read returns every exchange in the journal at path, oldest first. A
// missing file is an empty journal, not an error. Malformed lines are
// reported with their line number so a damaged journal is caught rather
// than silently shortened.
func Read(path string) ([]types.Exchange, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []types.Exchange{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: open journal %s: %w", path, err)
	}
	defer f.Close()

	exchanges := []types.Exchange{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ex types.Exchange
		if err := json.Unmarshal(line, &ex); err != nil {
			return nil, fmt.Errorf("transcript: journal %s line %d: %w", path, lineNo, err)
		}
		exchanges = append(exchanges, ex)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: read journal %s: %w", path, err)
	}
	return exchanges, nil
}
