package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned by [Device.Open] when the underlying
// hardware cannot be acquired (missing device, exclusive use by another
// process, driver failure). Implementations wrap driver errors so callers
// can test with [errors.Is].
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Device is a pull-based PCM capture source.
//
// A Device is obtained from a hardware adapter package (audio/portaudio,
// audio/mock) and follows a strict open → read → close lifecycle. Exactly one
// goroutine reads from an open Device; implementations are not required to
// tolerate concurrent ReadChunk calls.
type Device interface {
	// Open acquires the underlying capture hardware. Returns an error
	// wrapping [ErrDeviceUnavailable] if the device cannot be acquired.
	// Calling Open on an already open Device is an error.
	Open() error

	// ReadChunk blocks until one fixed-size chunk of 16-bit little-endian
	// PCM has been captured and returns it. The returned slice is owned by
	// the caller; implementations must not reuse its backing array.
	ReadChunk() ([]byte, error)

	// Close releases the capture hardware. Safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}

// Sink plays complete audio clips.
//
// Play blocks until the clip has been fully rendered or ctx is cancelled.
// The clip is a self-describing WAV stream; implementations decode the
// header rather than assuming a format. Implementations must be safe for
// concurrent use, though Parley's playback engine serializes calls through
// a single drain goroutine.
type Sink interface {
	Play(ctx context.Context, wav []byte) error
}
