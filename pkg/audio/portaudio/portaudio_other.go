//go:build !cgo

package portaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/parleylabs/parley/pkg/audio"
)

var (
	_ audio.Device = (*Device)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// Device is unavailable without cgo; the PortAudio binding is a C library.
// Use the mock input or an aplay output when building CGO_ENABLED=0.
type Device struct{}

// NewDevice mirrors the cgo build; the device always fails at [Device.Open].
func NewDevice(format audio.Format, chunkFrames int) *Device {
	return &Device{}
}

// Open always fails on this build.
func (d *Device) Open() error {
	return fmt.Errorf("%w: portaudio requires cgo", audio.ErrDeviceUnavailable)
}

// ReadChunk implements [audio.Device].
func (d *Device) ReadChunk() ([]byte, error) {
	return nil, errors.New("portaudio: device not open")
}

// Close implements [audio.Device].
func (d *Device) Close() error { return nil }

// Sink mirrors the cgo build's option surface; see the cgo build.
type Sink struct {
	// ChunkFrames is accepted for configuration symmetry; see the cgo build.
	ChunkFrames int
}

// Play always fails on this build.
func (s *Sink) Play(ctx context.Context, wav []byte) error {
	return fmt.Errorf("%w: portaudio requires cgo", audio.ErrDeviceUnavailable)
}
