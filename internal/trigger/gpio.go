//go:build linux

package trigger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

var _ Source = (*GPIO)(nil)

// GPIO is the appliance's button: a rising-edge line request with kernel
// debouncing, pulled down so an open switch reads low.
type GPIO struct {
	line      *gpiocdev.Line
	events    chan Event
	log       *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

type gpioConfig struct {
	chip     string
	pin      int
	debounce time.Duration
	logger   *slog.Logger
}

// GPIOOption configures a [GPIO] source.
type GPIOOption func(*gpioConfig)

// WithChip selects the gpiochip device. Default "gpiochip0".
func WithChip(name string) GPIOOption {
	return func(c *gpioConfig) { c.chip = name }
}

// WithPin selects the BCM line offset the button is wired to. Default 17.
func WithPin(pin int) GPIOOption {
	return func(c *gpioConfig) { c.pin = pin }
}

// WithDebouncePeriod sets the kernel debounce period. Default 200ms, matching
// the tactile switch on the reference build. Zero disables debouncing.
func WithDebouncePeriod(d time.Duration) GPIOOption {
	return func(c *gpioConfig) { c.debounce = d }
}

// WithGPIOLogger sets the logger. Defaults to slog.Default().
func WithGPIOLogger(log *slog.Logger) GPIOOption {
	return func(c *gpioConfig) { c.logger = log }
}

// NewGPIO requests the button line and starts delivering press events.
func NewGPIO(opts ...GPIOOption) (*GPIO, error) {
	cfg := gpioConfig{
		chip:     "gpiochip0",
		pin:      17,
		debounce: 200 * time.Millisecond,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.chip == "" {
		return nil, errors.New("trigger: chip name must not be empty")
	}
	if cfg.pin < 0 {
		return nil, fmt.Errorf("trigger: pin %d must not be negative", cfg.pin)
	}
	if cfg.debounce < 0 {
		return nil, fmt.Errorf("trigger: debounce period %v must not be negative", cfg.debounce)
	}

	g := &GPIO{
		events: make(chan Event, 1),
		log:    cfg.logger,
	}

	reqOpts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer("parley-button"),
		gpiocdev.WithEventHandler(g.handleEdge),
	}
	if cfg.debounce > 0 {
		reqOpts = append(reqOpts, gpiocdev.WithDebounce(cfg.debounce))
	}

	line, err := gpiocdev.RequestLine(cfg.chip, cfg.pin, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("trigger: request %s line %d: %w", cfg.chip, cfg.pin, err)
	}
	g.line = line
	g.log.Info("button trigger ready", "chip", cfg.chip, "pin", cfg.pin, "debounce", cfg.debounce)
	return g, nil
}

// handleEdge runs on the gpiocdev event goroutine. It must not block.
func (g *GPIO) handleEdge(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	select {
	case g.events <- Event{Time: time.Now()}:
		g.log.Debug("button pressed", "seqno", evt.Seqno)
	default:
		g.log.Debug("button press dropped, previous press unconsumed")
	}
}

// Events implements [Source].
func (g *GPIO) Events() <-chan Event { return g.events }

// Close implements [Source]. It releases the line; gpiocdev guarantees no
// handler invocation is in flight once the line is closed, so closing the
// event channel afterwards is safe.
func (g *GPIO) Close() error {
	g.closeOnce.Do(func() {
		g.closeErr = g.line.Close()
		close(g.events)
	})
	return g.closeErr
}
