// Package aplay provides an [audio.Sink] that shells out to the ALSA aplay
// utility. It is the playback path on headless boards where linking PortAudio
// is not worth the trouble; the clip is piped over stdin so nothing touches
// the filesystem.
package aplay

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/parleylabs/parley/pkg/audio"
)

var _ audio.Sink = (*Sink)(nil)

// Sink plays WAV clips via `aplay -q -t wav -`.
type Sink struct {
	// Device is the ALSA device passed as -D (e.g. "default:CARD=Headphones").
	// Empty selects the system default; the ALSA_DEVICE environment variable
	// is honored as a fallback.
	Device string
}

// Play pipes the clip to aplay and waits for it to exit. Cancellation of ctx
// kills the player mid-clip.
func (s *Sink) Play(ctx context.Context, wav []byte) error {
	dev := s.Device
	if dev == "" {
		dev = os.Getenv("ALSA_DEVICE")
	}
	args := []string{"-q", "-t", "wav"}
	if dev != "" {
		args = append(args, "-D", dev)
	}
	args = append(args, "-")

	cmd := exec.CommandContext(ctx, "aplay", args...)
	cmd.Stdin = bytes.NewReader(wav)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("aplay: %s: %w", msg, err)
		}
		return fmt.Errorf("aplay: %w", err)
	}
	return nil
}
