package trigger

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var _ Source = (*Stdin)(nil)

// Stdin is a development trigger: every line of input is one press. Run the
// appliance in a terminal and hit enter instead of wiring up a button.
type Stdin struct {
	events    chan Event
	log       *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

type stdinConfig struct {
	reader io.Reader
	logger *slog.Logger
}

// StdinOption configures a [Stdin] source.
type StdinOption func(*stdinConfig)

// WithReader reads trigger lines from r instead of os.Stdin.
func WithReader(r io.Reader) StdinOption {
	return func(c *stdinConfig) { c.reader = r }
}

// WithStdinLogger sets the logger. Defaults to slog.Default().
func WithStdinLogger(log *slog.Logger) StdinOption {
	return func(c *stdinConfig) { c.logger = log }
}

// NewStdin creates a stdin-backed source and starts reading immediately.
func NewStdin(opts ...StdinOption) *Stdin {
	cfg := stdinConfig{reader: os.Stdin, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Stdin{
		events: make(chan Event, 1),
		log:    cfg.logger,
		done:   make(chan struct{}),
	}
	go s.read(cfg.reader)
	return s
}

func (s *Stdin) read(r io.Reader) {
	defer close(s.events)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.events <- Event{Time: time.Now()}:
		default:
			s.log.Debug("trigger press dropped, previous press unconsumed")
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debug("stdin trigger stopped", "error", err)
	}
}

// Events implements [Source].
func (s *Stdin) Events() <-chan Event { return s.events }

// Close implements [Source]. The reading goroutine stops at the next line; it
// cannot be unblocked from a pending os.Stdin read, which is harmless during
// process shutdown.
func (s *Stdin) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
