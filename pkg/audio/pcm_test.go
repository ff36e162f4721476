package audio_test

import (
	"math"
	"testing"

	"github.com/parleylabs/parley/pkg/audio"
)

// makeTonePCM generates n samples of a constant-amplitude sine wave as
// 16-bit little-endian PCM. RMS of a full-cycle sine is amplitude/sqrt(2).
func makeTonePCM(amplitude float64, n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*float64(i)/64))
	}
	return samplesToBytes(samples)
}

// makeFlatPCM generates n samples all equal to v. RMS is exactly |v|.
func makeFlatPCM(v int16, n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = v
	}
	return samplesToBytes(samples)
}

func TestRMS_Silence_ReturnsZero(t *testing.T) {
	if got := audio.RMS(makeFlatPCM(0, 1024)); got != 0 {
		t.Errorf("RMS of silence: got %f, want 0", got)
	}
}

func TestRMS_EmptyBuffer_ReturnsZero(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS of nil: got %f, want 0", got)
	}
	if got := audio.RMS([]byte{0x7F}); got != 0 {
		t.Errorf("RMS of single byte: got %f, want 0", got)
	}
}

func TestRMS_FlatSignal_EqualsAmplitude(t *testing.T) {
	got := audio.RMS(makeFlatPCM(1000, 512))
	if got != 1000 {
		t.Errorf("RMS of flat 1000 signal: got %f, want exactly 1000", got)
	}
}

func TestRMS_Sine_MatchesTheory(t *testing.T) {
	// Full cycles of a sine with amplitude A have RMS ≈ A/sqrt(2).
	got := audio.RMS(makeTonePCM(8000, 1024))
	want := 8000 / math.Sqrt2
	if math.Abs(got-want) > want*0.02 {
		t.Errorf("RMS of 8000-amplitude sine: got %f, want ~%f", got, want)
	}
}

func TestRMS_NegativeSamples_Positive(t *testing.T) {
	got := audio.RMS(makeFlatPCM(-2000, 256))
	if got != 2000 {
		t.Errorf("RMS of flat -2000 signal: got %f, want 2000", got)
	}
}

func TestRMS_TrailingOddByte_Ignored(t *testing.T) {
	pcm := makeFlatPCM(500, 8)
	withTail := append(append([]byte{}, pcm...), 0xFF)
	if got, want := audio.RMS(withTail), audio.RMS(pcm); got != want {
		t.Errorf("trailing byte changed RMS: got %f, want %f", got, want)
	}
}

func TestIsSilent_BelowThreshold(t *testing.T) {
	if !audio.IsSilent(makeFlatPCM(100, 256), 1000) {
		t.Error("RMS 100 under threshold 1000 should be silent")
	}
}

func TestIsSilent_AboveThreshold(t *testing.T) {
	if audio.IsSilent(makeFlatPCM(3000, 256), 1000) {
		t.Error("RMS 3000 over threshold 1000 should not be silent")
	}
}

func TestIsSilent_ExactlyAtThreshold_NotSilent(t *testing.T) {
	// The boundary is exclusive: RMS == threshold counts as speech.
	pcm := makeFlatPCM(1000, 256)
	if audio.IsSilent(pcm, 1000) {
		t.Error("RMS exactly at threshold should not be silent")
	}
	if !audio.IsSilent(pcm, 1000.5) {
		t.Error("RMS just under threshold should be silent")
	}
}

func TestIsSilent_Deterministic(t *testing.T) {
	pcm := makeTonePCM(999, 1024)
	first := audio.IsSilent(pcm, 1000)
	for range 10 {
		if audio.IsSilent(pcm, 1000) != first {
			t.Fatal("IsSilent verdict changed across calls on identical input")
		}
	}
}

func TestFormat_BytesPerFrame(t *testing.T) {
	if got := (audio.Format{SampleRate: 16000, Channels: 1}).BytesPerFrame(); got != 2 {
		t.Errorf("mono frame: got %d bytes, want 2", got)
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).BytesPerFrame(); got != 4 {
		t.Errorf("stereo frame: got %d bytes, want 4", got)
	}
}

func TestFormat_BytesPerSecond(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.BytesPerSecond(); got != 32000 {
		t.Errorf("16kHz mono: got %d B/s, want 32000", got)
	}
}

func TestFormat_ChunkDuration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	// 1024 frames at 16kHz mono = 2048 bytes = 64ms.
	if got := f.ChunkDuration(2048); got.Milliseconds() != 64 {
		t.Errorf("1024-frame chunk: got %v, want 64ms", got)
	}
	if got := (audio.Format{}).ChunkDuration(2048); got != 0 {
		t.Errorf("zero format: got %v, want 0", got)
	}
}
