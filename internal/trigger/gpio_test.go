//go:build linux

package trigger_test

import (
	"testing"

	"github.com/parleylabs/parley/internal/trigger"
)

func TestNewGPIO_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []trigger.GPIOOption
	}{
		{"empty chip", []trigger.GPIOOption{trigger.WithChip("")}},
		{"negative pin", []trigger.GPIOOption{trigger.WithPin(-1)}},
		{"negative debounce", []trigger.GPIOOption{trigger.WithDebouncePeriod(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := trigger.NewGPIO(tt.opts...); err == nil {
				t.Fatal("NewGPIO succeeded, want error")
			}
		})
	}
}

func TestNewGPIO_MissingChip_ReturnsError(t *testing.T) {
	_, err := trigger.NewGPIO(trigger.WithChip("gpiochip-does-not-exist"))
	if err == nil {
		t.Fatal("NewGPIO on a nonexistent chip succeeded, want error")
	}
}
