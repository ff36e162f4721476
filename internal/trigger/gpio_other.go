//go:build !linux

package trigger

import (
	"errors"
	"log/slog"
	"time"
)

// GPIO is unavailable off-Linux; the character-device GPIO interface is a
// Linux kernel API. Use [Stdin] when developing elsewhere.
type GPIO struct{}

type gpioConfig struct{}

// GPIOOption configures a [GPIO] source.
type GPIOOption func(*gpioConfig)

// WithChip is accepted for configuration symmetry; see the linux build.
func WithChip(string) GPIOOption { return func(*gpioConfig) {} }

// WithPin is accepted for configuration symmetry; see the linux build.
func WithPin(int) GPIOOption { return func(*gpioConfig) {} }

// WithDebouncePeriod is accepted for configuration symmetry; see the linux build.
func WithDebouncePeriod(time.Duration) GPIOOption { return func(*gpioConfig) {} }

// WithGPIOLogger is accepted for configuration symmetry; see the linux build.
func WithGPIOLogger(*slog.Logger) GPIOOption { return func(*gpioConfig) {} }

// NewGPIO always fails on this platform.
func NewGPIO(opts ...GPIOOption) (*GPIO, error) {
	return nil, errors.New("trigger: gpio button requires linux")
}

// Events implements [Source].
func (g *GPIO) Events() <-chan Event { return nil }

// Close implements [Source].
func (g *GPIO) Close() error { return nil }
