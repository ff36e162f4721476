// Package playback buffers PCM produced in bursts and plays it out as
// fixed-size WAV segments through an [audio.Sink].
//
// Producers call [Stream.Append], which never blocks on playback. A single
// background consumer cuts segments off the front of the buffer in FIFO
// order, wraps each in a minimal WAV container, and plays it synchronously
// before taking the next. When less than a full segment is pending the
// consumer idles on a bounded poll instead of spinning. A failed segment is
// logged and skipped; playback continues with the next one.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleylabs/parley/internal/observe"
	"github.com/parleylabs/parley/pkg/audio"
)

// ErrClosed is returned by [Stream.Append] and [Stream.Flush] after
// [Stream.Close].
var ErrClosed = errors.New("playback: stream closed")

// Stats is a point-in-time snapshot of a stream's counters.
type Stats struct {
	// SegmentsPlayed is the number of segments the sink accepted.
	SegmentsPlayed int64

	// Failures is the number of segments the sink rejected.
	Failures int64

	// PendingBytes is the PCM currently waiting to be drained.
	PendingBytes int
}

// Stream is a streaming playback buffer with one background consumer.
type Stream struct {
	sink    audio.Sink
	log     *slog.Logger
	metrics *observe.Metrics

	format       audio.Format
	segmentSize  int
	pollInterval time.Duration

	mu           sync.Mutex
	buf          []byte
	flushMark    bool
	flushWaiters []chan struct{}
	closed       bool
	played       int64
	failures     int64

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option is a functional option for configuring a Stream.
type Option func(*Stream)

// WithFormat sets the PCM format of appended data. Defaults to 24 kHz mono,
// the format the speech synthesizers emit.
func WithFormat(f audio.Format) Option {
	return func(s *Stream) {
		s.format = f
	}
}

// WithSegmentSize sets the drained segment size in bytes. Must be even so
// segments never split an int16 sample. Defaults to one second of audio in
// the stream format.
func WithSegmentSize(n int) Option {
	return func(s *Stream) {
		s.segmentSize = n
	}
}

// WithPollInterval sets how long the consumer sleeps between checks while
// less than a full segment is pending. Defaults to 50ms.
func WithPollInterval(d time.Duration) Option {
	return func(s *Stream) {
		s.pollInterval = d
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Stream) {
		s.log = log
	}
}

// WithMetrics sets the metrics sink. A nil *Metrics records nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Stream) {
		s.metrics = m
	}
}

// New returns a running Stream draining into sink. Callers must Close it.
func New(sink audio.Sink, opts ...Option) (*Stream, error) {
	if sink == nil {
		return nil, errors.New("playback: sink must not be nil")
	}
	s := &Stream{
		sink:         sink,
		log:          slog.Default(),
		format:       audio.Format{SampleRate: 24000, Channels: 1},
		pollInterval: 50 * time.Millisecond,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.segmentSize == 0 {
		s.segmentSize = s.format.BytesPerSecond()
	}
	if s.segmentSize <= 0 || s.segmentSize%2 != 0 {
		return nil, fmt.Errorf("playback: segment size must be positive and even, got %d", s.segmentSize)
	}
	if s.pollInterval <= 0 {
		return nil, fmt.Errorf("playback: poll interval must be positive, got %v", s.pollInterval)
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Append queues pcm for playback and returns immediately, even while a
// segment is being played. The bytes are copied; the caller may reuse pcm.
func (s *Stream) Append(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.buf = append(s.buf, pcm...)
	s.mu.Unlock()

	s.metrics.AddPlaybackPending(context.Background(), int64(len(pcm)))
	s.kick()
	return nil
}

// Flush asks the consumer to drain everything that is pending, including a
// final segment shorter than the segment size, and blocks until the buffer
// has been played out or ctx is cancelled. Use it at reply boundaries so the
// tail of an utterance is audible before the next turn starts.
func (s *Stream) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	ch := make(chan struct{})
	s.flushMark = true
	s.flushWaiters = append(s.flushWaiters, ch)
	s.mu.Unlock()

	s.kick()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the remaining tail through the sink, stops the consumer, and
// waits for it to exit. Idempotent; subsequent calls are no-ops and return
// nil.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SegmentsPlayed: s.played,
		Failures:       s.failures,
		PendingBytes:   len(s.buf),
	}
}

// kick wakes the consumer without blocking the caller.
func (s *Stream) kick() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// run is the single consumer goroutine. It exits only when Close fires, and
// drains whatever is left before returning.
func (s *Stream) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		seg := s.cut()
		if seg == nil {
			select {
			case <-s.done:
				s.finalDrain()
				return
			case <-s.notify:
			case <-ticker.C:
			}
			continue
		}
		s.playSegment(seg)
	}
}

// cut removes the next segment from the buffer: a full segmentSize slice
// when available, otherwise the short tail if a flush is pending. When a
// pending flush finds the buffer empty, its waiters are released. Returns
// nil when there is nothing to play.
func (s *Stream) cut() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) >= s.segmentSize {
		seg := s.buf[:s.segmentSize:s.segmentSize]
		s.buf = s.buf[s.segmentSize:]
		return seg
	}
	if s.flushMark {
		if len(s.buf) > 0 {
			seg := s.buf
			s.buf = nil
			return seg
		}
		s.flushMark = false
		for _, ch := range s.flushWaiters {
			close(ch)
		}
		s.flushWaiters = nil
	}
	return nil
}

// finalDrain plays out the tail after Close.
func (s *Stream) finalDrain() {
	for {
		s.mu.Lock()
		s.flushMark = true
		s.mu.Unlock()
		seg := s.cut()
		if seg == nil {
			return
		}
		s.playSegment(seg)
	}
}

// playSegment wraps one segment in a WAV container and plays it through the
// sink. A sink failure is not fatal to the stream.
func (s *Stream) playSegment(seg []byte) {
	ctx := context.Background()
	wav := audio.EncodeWAV(seg, s.format)
	err := s.sink.Play(ctx, wav)

	s.metrics.AddPlaybackPending(ctx, -int64(len(seg)))
	s.mu.Lock()
	if err != nil {
		s.failures++
	} else {
		s.played++
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("playback: segment failed, continuing",
			"bytes", len(seg),
			"error", err,
		)
		s.metrics.RecordPlaybackSegment(ctx, "error")
		return
	}
	s.metrics.RecordPlaybackSegment(ctx, "ok")
}
