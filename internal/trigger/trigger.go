// Package trigger produces the press events that start a voice interaction.
//
// A [Source] is anything that can say "the user wants to talk now": the
// appliance's physical button on a GPIO line, or a newline on stdin when
// developing on a laptop. Sources deliver events on a channel and drop
// presses that arrive while the previous one is still unconsumed; the
// assistant ignores presses mid-interaction anyway, so there is nothing to
// queue.
package trigger

import (
	"time"
)

// Event is one trigger activation.
type Event struct {
	// Time is when the activation was observed.
	Time time.Time
}

// Source emits trigger events.
type Source interface {
	// Events returns the channel activations are delivered on. The channel
	// is closed when the source is closed or its input ends.
	Events() <-chan Event

	// Close releases the source and its underlying resources. Closing a
	// closed source is not an error.
	Close() error
}

// Debounce wraps src, suppressing events whose timestamp falls within window
// of the last delivered event. Sources with hardware debouncing (the GPIO
// line) do not need it; it exists for sources without, and for tightening a
// chattery switch beyond what the kernel period catches.
//
// Closing the returned source closes src.
func Debounce(src Source, window time.Duration) Source {
	d := &debounced{
		src:    src,
		window: window,
		events: make(chan Event, 1),
	}
	go d.run()
	return d
}

type debounced struct {
	src    Source
	window time.Duration
	events chan Event
}

func (d *debounced) run() {
	defer close(d.events)

	var last time.Time
	for evt := range d.src.Events() {
		if !last.IsZero() && evt.Time.Sub(last) < d.window {
			continue
		}
		select {
		case d.events <- evt:
			last = evt.Time
		default:
		}
	}
}

func (d *debounced) Events() <-chan Event { return d.events }

func (d *debounced) Close() error { return d.src.Close() }
