package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/parleylabs/parley/pkg/types"
)

// DefaultFileName is where [FileStore] keeps the conversation when no path is
// given: a JSON array of {"role","content"} objects next to the binary.
const DefaultFileName = "conversation_history.json"

var _ Store = (*FileStore)(nil)

// FileStore persists the conversation as a single JSON file. Writes go through
// a temp file in the same directory followed by a rename, so a crash mid-write
// leaves the previous history intact rather than a truncated file.
type FileStore struct {
	mu       sync.Mutex
	path     string
	maxTurns int
}

// NewFileStore creates a file-backed store at path, creating parent
// directories as needed. An empty path selects [DefaultFileName] in the
// working directory.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	if path == "" {
		path = DefaultFileName
	}
	cfg := config{maxTurns: DefaultMaxTurns}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory for %s: %w", path, err)
	}
	return &FileStore{path: path, maxTurns: cfg.maxTurns}, nil
}

// Load implements [Store]. A missing file is an empty history, not an error.
func (s *FileStore) Load(ctx context.Context) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Append implements [Store].
func (s *FileStore) Append(ctx context.Context, user, assistant types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.read()
	if err != nil {
		return err
	}
	msgs = trim(append(msgs, user, assistant), s.maxTurns)
	return s.write(msgs)
}

// Clear implements [Store]. It removes the history file.
func (s *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("history: clear %s: %w", s.path, err)
	}
	return nil
}

// Path returns the file this store reads and writes.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) read() ([]types.Message, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", s.path, err)
	}

	var msgs []types.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("history: parse %s: %w", s.path, err)
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}

func (s *FileStore) write(msgs []types.Message) error {
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.json")
	if err != nil {
		return fmt.Errorf("history: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("history: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("history: close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("history: chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("history: replace %s: %w", s.path, err)
	}
	return nil
}
