// Package audio provides the PCM primitives shared by the capture, playback,
// and relay pipelines: the sample format descriptor, the RMS energy gate used
// for silence endpointing, and the minimal RIFF/WAVE container codec.
//
// All PCM data throughout Parley is 16-bit signed little-endian. A chunk is a
// plain byte slice; its sample rate and channel count travel alongside it as a
// [Format]. Chunks are immutable once read from a device; the component that
// read a chunk owns it exclusively until it hands it off.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
// Bit depth is fixed at 16 (2 bytes per sample).
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerFrame returns the size of one sample frame (all channels) in bytes.
func (f Format) BytesPerFrame() int {
	return f.Channels * 2
}

// BytesPerSecond returns the byte rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// ChunkDuration returns the play time of a PCM chunk of n bytes.
// Returns 0 for non-positive formats.
func (f Format) ChunkDuration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// RMS returns the root-mean-square amplitude of a 16-bit signed little-endian
// PCM buffer, expressed in raw sample units (0 to 32767). Returns 0 for buffers
// shorter than one sample. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// IsSilent reports whether a PCM chunk falls below the given RMS threshold.
// The boundary is exclusive on the low side: a chunk whose RMS equals the
// threshold is not silent. Pure function of its inputs, so the same chunk
// always yields the same verdict.
func IsSilent(pcm []byte, threshold float64) bool {
	return RMS(pcm) < threshold
}
