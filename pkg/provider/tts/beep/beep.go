// Package beep provides an offline fallback Synthesizer that renders a fixed
// notification tone instead of speech. It keeps the appliance audible when
// every real TTS backend is down: the user hears that the assistant finished
// a turn even if the words are lost.
package beep

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/parleylabs/parley/pkg/audio"
	"github.com/parleylabs/parley/pkg/provider/tts"
)

const (
	defaultFrequency = 440.0
	defaultDuration  = time.Second
	// defaultAmplitude is half of full scale for 16-bit PCM.
	defaultAmplitude = 0.5
)

// Synthesizer implements tts.Synthesizer with a generated sine tone.
type Synthesizer struct {
	frequency float64
	duration  time.Duration
	amplitude float64
	format    audio.Format
}

// Option is a functional option for Synthesizer.
type Option func(*Synthesizer)

// WithFrequency sets the tone frequency in Hz. Defaults to 440.
func WithFrequency(hz float64) Option {
	return func(s *Synthesizer) {
		s.frequency = hz
	}
}

// WithDuration sets the tone length. Defaults to one second.
func WithDuration(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.duration = d
	}
}

// WithAmplitude sets the tone level as a fraction of full scale in (0, 1].
// Defaults to 0.5.
func WithAmplitude(a float64) Option {
	return func(s *Synthesizer) {
		s.amplitude = a
	}
}

// WithFormat sets the output sample rate and channel count.
// Defaults to 44100 Hz mono.
func WithFormat(f audio.Format) Option {
	return func(s *Synthesizer) {
		s.format = f
	}
}

// New constructs a tone Synthesizer.
func New(opts ...Option) (*Synthesizer, error) {
	s := &Synthesizer{
		frequency: defaultFrequency,
		duration:  defaultDuration,
		amplitude: defaultAmplitude,
		format:    audio.Format{SampleRate: 44100, Channels: 1},
	}
	for _, o := range opts {
		o(s)
	}
	if s.frequency <= 0 {
		return nil, fmt.Errorf("beep: frequency must be positive, got %v", s.frequency)
	}
	if s.duration <= 0 {
		return nil, fmt.Errorf("beep: duration must be positive, got %v", s.duration)
	}
	if s.amplitude <= 0 || s.amplitude > 1 {
		return nil, fmt.Errorf("beep: amplitude must be in (0, 1], got %v", s.amplitude)
	}
	if s.format.SampleRate <= 0 || s.format.Channels <= 0 {
		return nil, fmt.Errorf("beep: invalid format %+v", s.format)
	}
	return s, nil
}

// Synthesize implements tts.Synthesizer. The text determines nothing about
// the output beyond being non-empty; every call renders the same tone.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("beep: text must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames := int(float64(s.format.SampleRate) * s.duration.Seconds())
	peak := s.amplitude * math.MaxInt16
	pcm := make([]byte, 0, frames*s.format.BytesPerFrame())
	for i := range frames {
		v := int16(peak * math.Sin(2*math.Pi*s.frequency*float64(i)/float64(s.format.SampleRate)))
		lo, hi := byte(v), byte(uint16(v)>>8)
		for range s.format.Channels {
			pcm = append(pcm, lo, hi)
		}
	}
	return audio.EncodeWAV(pcm, s.format), nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
