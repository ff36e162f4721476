// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{
//	    Chunks: [][]byte{speech, speech, silence},
//	    Fill:   silence,
//	}
//	sink := &mock.Sink{}
//	// run the component under test against dev and sink, then assert on
//	// dev.CallCountClose and sink.PlayCalls.
package mock

import (
	"context"
	"errors"
	"sync"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// ErrExhausted is returned by [Device.ReadChunk] when the scripted chunks run
// out and neither Fill nor ReadError is set.
var ErrExhausted = errors.New("mock: device exhausted")

// Device is a scripted mock implementation of [audio.Device].
// Set the exported fields before use; inspect the CallCount* fields after.
type Device struct {
	mu sync.Mutex

	// OpenError is returned by [Device.Open].
	OpenError error

	// Chunks are returned one per [Device.ReadChunk] call, in order.
	Chunks [][]byte

	// Fill, when non-nil, is returned by every ReadChunk call after Chunks
	// is exhausted. A copy is returned each time.
	Fill []byte

	// ReadError is returned by ReadChunk once Chunks is exhausted and Fill
	// is nil. Defaults to [ErrExhausted].
	ReadError error

	// CloseError is returned by [Device.Close].
	CloseError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountRead records how many times ReadChunk was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	open bool
	next int
}

// Open implements [audio.Device]. Records the call and returns OpenError.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	if d.OpenError != nil {
		return d.OpenError
	}
	d.open = true
	return nil
}

// ReadChunk implements [audio.Device]. Returns the next scripted chunk, then
// Fill forever, then ReadError (or [ErrExhausted]). Each returned slice is a
// fresh copy so callers may retain it.
func (d *Device) ReadChunk() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountRead++
	if d.next < len(d.Chunks) {
		chunk := d.Chunks[d.next]
		d.next++
		out := make([]byte, len(chunk))
		copy(out, chunk)
		return out, nil
	}
	if d.Fill != nil {
		out := make([]byte, len(d.Fill))
		copy(out, d.Fill)
		return out, nil
	}
	if d.ReadError != nil {
		return nil, d.ReadError
	}
	return nil, ErrExhausted
}

// Close implements [audio.Device]. Records the call and returns CloseError.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.open = false
	return d.CloseError
}

// IsOpen reports whether the device is currently open. Use this in tests to
// assert that the device was released on every exit path.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Sink.Play] invocation.
type PlayCall struct {
	// WAV is the clip passed to Play.
	WAV []byte
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayResults are returned by successive Play calls, in order. Calls
	// beyond the scripted results return nil.
	PlayResults []error

	// Gate, when non-nil, makes Play block until a value is received from
	// it (or ctx is cancelled). Use this in tests to hold playback open
	// while asserting on concurrent behavior.
	Gate <-chan struct{}

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall
}

// Play implements [audio.Sink]. Records the clip, optionally blocks on Gate,
// and returns the next scripted result.
func (s *Sink) Play(ctx context.Context, wav []byte) error {
	s.mu.Lock()
	clip := make([]byte, len(wav))
	copy(clip, wav)
	s.PlayCalls = append(s.PlayCalls, PlayCall{WAV: clip})
	n := len(s.PlayCalls) - 1
	var result error
	if n < len(s.PlayResults) {
		result = s.PlayResults[n]
	}
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return result
}

// Played returns a snapshot of all clips passed to Play so far.
func (s *Sink) Played() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.PlayCalls))
	for i, c := range s.PlayCalls {
		out[i] = c.WAV
	}
	return out
}
