// Package capture records a single utterance from a PCM device, endpointed
// by trailing silence or a hard duration cap.
//
// A [Recorder] owns one [audio.Device] and admits one session at a time. A
// session walks Idle → Recording → Finalizing → Completed (or Aborted); the
// recorder returns to Idle when [Recorder.Record] returns, whatever the
// outcome. The device is acquired on entry to Recording and released on every
// exit path.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleylabs/parley/pkg/audio"
)

var (
	// ErrAlreadyActive is returned by [Recorder.Record] when a session is
	// already running. The running session is unaffected.
	ErrAlreadyActive = errors.New("capture: session already active")

	// ErrEmptyRecording is returned when a session finalizes with zero
	// collected chunks. No file is written.
	ErrEmptyRecording = errors.New("capture: empty recording")
)

// State identifies where a session is in its lifecycle.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota

	// StateRecording means the chunk loop is consuming the device.
	StateRecording

	// StateFinalizing means the loop has ended and the WAV file is being
	// written.
	StateFinalizing

	// StateCompleted is the terminal state of a session that produced a
	// recording.
	StateCompleted

	// StateAborted is the terminal state of a session that produced no
	// recording.
	StateAborted
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// FinishReason records why a completed session stopped collecting.
type FinishReason int

const (
	// ReasonSilence means the trailing-silence endpoint fired.
	ReasonSilence FinishReason = iota

	// ReasonMaxDuration means the session hit the hard duration cap.
	ReasonMaxDuration

	// ReasonStopped means [Recorder.Stop] ended the session.
	ReasonStopped
)

// String returns the reason as a log/metric label.
func (r FinishReason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMaxDuration:
		return "max_duration"
	case ReasonStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Recording describes one finished capture session.
type Recording struct {
	// ID uniquely identifies the session.
	ID string

	// Path is the WAV file holding the utterance.
	Path string

	// Chunks is the number of device chunks collected.
	Chunks int

	// SilentTail is the length of the trailing silent run, in chunks.
	SilentTail int

	// Duration is the audio length of the recording.
	Duration time.Duration

	// Reason is why collection stopped.
	Reason FinishReason
}

// Recorder runs capture sessions against one device.
type Recorder struct {
	device audio.Device
	log    *slog.Logger

	format           audio.Format
	chunkFrames      int
	silenceThreshold float64
	silenceDuration  time.Duration
	maxDuration      time.Duration
	outputDir        string

	mu      sync.Mutex
	state   State
	stopCh  chan struct{}
	stopped bool
}

// Option is a functional option for configuring a Recorder.
type Option func(*Recorder)

// WithFormat sets the capture format. Defaults to 16 kHz mono, the format
// the transcription providers expect.
func WithFormat(f audio.Format) Option {
	return func(r *Recorder) {
		r.format = f
	}
}

// WithChunkFrames sets the device chunk size in sample frames.
// Defaults to 1024.
func WithChunkFrames(frames int) Option {
	return func(r *Recorder) {
		r.chunkFrames = frames
	}
}

// WithSilenceThreshold sets the RMS level below which a chunk counts as
// silent, in raw 16-bit sample units. Defaults to 1000.
func WithSilenceThreshold(rms float64) Option {
	return func(r *Recorder) {
		r.silenceThreshold = rms
	}
}

// WithSilenceDuration sets how much trailing silence ends the session.
// Defaults to 2s.
func WithSilenceDuration(d time.Duration) Option {
	return func(r *Recorder) {
		r.silenceDuration = d
	}
}

// WithMaxDuration sets the hard cap on a session. Defaults to 30s.
func WithMaxDuration(d time.Duration) Option {
	return func(r *Recorder) {
		r.maxDuration = d
	}
}

// WithOutputDir sets where recordings are written. Defaults to the system
// temp directory.
func WithOutputDir(dir string) Option {
	return func(r *Recorder) {
		r.outputDir = dir
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) {
		r.log = log
	}
}

// New returns a Recorder reading from device.
func New(device audio.Device, opts ...Option) (*Recorder, error) {
	if device == nil {
		return nil, errors.New("capture: device must not be nil")
	}
	r := &Recorder{
		device:           device,
		log:              slog.Default(),
		format:           audio.Format{SampleRate: 16000, Channels: 1},
		chunkFrames:      1024,
		silenceThreshold: 1000,
		silenceDuration:  2 * time.Second,
		maxDuration:      30 * time.Second,
		outputDir:        os.TempDir(),
		state:            StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.chunkFrames <= 0 {
		return nil, fmt.Errorf("capture: chunkFrames must be positive, got %d", r.chunkFrames)
	}
	if r.format.SampleRate <= 0 || r.format.Channels <= 0 {
		return nil, fmt.Errorf("capture: invalid format %dHz %dch", r.format.SampleRate, r.format.Channels)
	}
	return r, nil
}

// State returns the current session state. Between sessions this is
// [StateIdle].
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stop requests cooperative termination of the running session. The chunk
// loop observes it at the next chunk boundary and finalizes with whatever
// has been collected. No-op when no session is recording.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || r.stopped {
		return
	}
	r.stopped = true
	close(r.stopCh)
}

// Record runs one capture session to completion and returns the recording.
//
// The session ends when the trailing-silence endpoint fires (at least one
// non-silent chunk seen, then a full silent run), when the duration cap is
// hit, when [Recorder.Stop] is called, or when ctx is cancelled. Cancellation
// aborts without writing a file; Stop finalizes what was collected.
//
// Returns [ErrAlreadyActive] if a session is running, an error wrapping
// [audio.ErrDeviceUnavailable] if the device cannot be acquired, and
// [ErrEmptyRecording] if finalization finds zero chunks.
func (r *Recorder) Record(ctx context.Context) (*Recording, error) {
	stopCh, err := r.begin()
	if err != nil {
		return nil, err
	}
	defer r.end()

	if err := r.device.Open(); err != nil {
		r.setState(StateAborted)
		return nil, fmt.Errorf("capture: acquire device: %w", err)
	}
	defer func() {
		if cerr := r.device.Close(); cerr != nil {
			r.log.Warn("capture: release device", "error", cerr)
		}
	}()

	id := uuid.NewString()
	started := time.Now()
	maxSilent := r.chunksFor(r.silenceDuration)
	maxTotal := r.chunksFor(r.maxDuration)
	r.log.Info("capture: session started",
		"id", id,
		"threshold", r.silenceThreshold,
		"maxSilentChunks", maxSilent,
		"maxTotalChunks", maxTotal,
	)

	var (
		buf       bytes.Buffer
		chunks    int
		silentRun int
		hadSpeech bool
		reason    FinishReason
	)

loop:
	for {
		select {
		case <-ctx.Done():
			r.setState(StateAborted)
			return nil, fmt.Errorf("capture: session cancelled: %w", ctx.Err())
		case <-stopCh:
			reason = ReasonStopped
			break loop
		default:
		}

		chunk, err := r.device.ReadChunk()
		if err != nil {
			r.setState(StateAborted)
			return nil, fmt.Errorf("capture: read chunk: %w", err)
		}
		buf.Write(chunk)
		chunks++

		if audio.IsSilent(chunk, r.silenceThreshold) {
			silentRun++
		} else {
			hadSpeech = true
			silentRun = 0
		}

		if hadSpeech && silentRun >= maxSilent {
			reason = ReasonSilence
			break
		}
		if chunks >= maxTotal {
			reason = ReasonMaxDuration
			break
		}
	}

	r.setState(StateFinalizing)
	if chunks == 0 {
		r.setState(StateAborted)
		return nil, ErrEmptyRecording
	}

	path := filepath.Join(r.outputDir, fmt.Sprintf("recording_%s.wav", id))
	if err := audio.WriteWAVFile(path, buf.Bytes(), r.format); err != nil {
		r.setState(StateAborted)
		return nil, fmt.Errorf("capture: finalize: %w", err)
	}

	rec := &Recording{
		ID:         id,
		Path:       path,
		Chunks:     chunks,
		SilentTail: silentRun,
		Duration:   r.format.ChunkDuration(buf.Len()),
		Reason:     reason,
	}
	r.setState(StateCompleted)
	r.log.Info("capture: session completed",
		"id", id,
		"reason", reason,
		"chunks", chunks,
		"audio", rec.Duration,
		"elapsed", time.Since(started).Round(time.Millisecond),
		"path", path,
	)
	return rec, nil
}

// begin admits a new session or reports one already active.
func (r *Recorder) begin() (chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return nil, ErrAlreadyActive
	}
	r.state = StateRecording
	r.stopCh = make(chan struct{})
	r.stopped = false
	return r.stopCh, nil
}

// end returns the recorder to Idle so the next session can start.
func (r *Recorder) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdle
	r.stopCh = nil
	r.stopped = false
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// chunksFor converts a duration into whole device chunks, truncating
// toward zero. Never less than 1.
func (r *Recorder) chunksFor(d time.Duration) int {
	n := int(d.Milliseconds() * int64(r.format.SampleRate) / (int64(r.chunkFrames) * 1000))
	if n < 1 {
		n = 1
	}
	return n
}
