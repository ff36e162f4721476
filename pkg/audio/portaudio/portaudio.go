//go:build cgo

// Package portaudio provides [audio.Device] and [audio.Sink] implementations
// backed by the PortAudio library, used on hosts where Parley talks to sound
// hardware directly.
//
// PortAudio reference-counts Initialize/Terminate pairs, so the capture device
// and playback sink may be open at the same time.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/parleylabs/parley/pkg/audio"
)

const defaultChunkFrames = 1024

var (
	_ audio.Device = (*Device)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// Device captures 16-bit PCM from the default input device.
type Device struct {
	format      audio.Format
	chunkFrames int

	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
}

// NewDevice returns a Device that captures chunks of chunkFrames frames in
// the given format. The device is not acquired until [Device.Open].
func NewDevice(format audio.Format, chunkFrames int) *Device {
	if chunkFrames <= 0 {
		chunkFrames = defaultChunkFrames
	}
	return &Device{format: format, chunkFrames: chunkFrames}
}

// Open acquires the default PortAudio input stream.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return errors.New("portaudio: device already open")
	}
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize: %v", audio.ErrDeviceUnavailable, err)
	}
	buf := make([]int16, d.chunkFrames*d.format.Channels)
	stream, err := pa.OpenDefaultStream(d.format.Channels, 0, float64(d.format.SampleRate), d.chunkFrames, buf)
	if err != nil {
		pa.Terminate()
		return fmt.Errorf("%w: open input stream: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return fmt.Errorf("%w: start input stream: %v", audio.ErrDeviceUnavailable, err)
	}
	d.stream, d.buf = stream, buf
	return nil
}

// ReadChunk blocks until one chunk has been captured. Input overflow (the
// host dropping samples between reads) is not fatal; the partial chunk is
// returned as captured.
func (d *Device) ReadChunk() ([]byte, error) {
	d.mu.Lock()
	stream, buf := d.stream, d.buf
	d.mu.Unlock()
	if stream == nil {
		return nil, errors.New("portaudio: device not open")
	}

	if err := stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return nil, fmt.Errorf("portaudio: read chunk: %w", err)
	}
	out := make([]byte, len(buf)*2)
	for i, s := range buf {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// Close stops the stream and releases the device. Safe to call repeatedly.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	var errs []error
	if err := d.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := d.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	d.stream, d.buf = nil, nil
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate: %w", err))
	}
	return errors.Join(errs...)
}

// Sink renders WAV clips through the default output device.
type Sink struct {
	// ChunkFrames is the number of frames per write. Zero selects a
	// 1024-frame block.
	ChunkFrames int
}

// Play decodes the clip and writes it to the default output stream, blocking
// until the final block has been handed to the device or ctx is cancelled.
func (s *Sink) Play(ctx context.Context, wav []byte) error {
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("portaudio: decode clip: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize: %v", audio.ErrDeviceUnavailable, err)
	}
	defer pa.Terminate()

	chunk := s.ChunkFrames
	if chunk <= 0 {
		chunk = defaultChunkFrames
	}
	buf := make([]int16, chunk*format.Channels)
	stream, err := pa.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), chunk, buf)
	if err != nil {
		return fmt.Errorf("%w: open output stream: %v", audio.ErrDeviceUnavailable, err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("%w: start output stream: %v", audio.ErrDeviceUnavailable, err)
	}
	defer stream.Stop()

	samples := len(pcm) / 2
	for off := 0; off < samples; off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(buf), samples-off)
		for i := range n {
			buf[i] = int16(binary.LittleEndian.Uint16(pcm[(off+i)*2:]))
		}
		// Zero-pad the final partial block so stale samples are not replayed.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if err := stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write block: %w", err)
		}
	}
	return nil
}
