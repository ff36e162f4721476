// Package relay runs the WebSocket channel between the appliance and its
// peers: companion apps, dashboards, and other assistants on the LAN.
//
// Every frame is a JSON envelope with a type tag and an optional payload.
// Inbound audio replies are decoded to WAV files and handed to a callback;
// the recorded utterance goes out to every connected peer as a base64 data
// URI. A bad frame gets an error envelope back and the connection stays up.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/parleylabs/parley/internal/observe"
)

// Envelope is the wire frame exchanged with peers.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Envelope types.
const (
	TypeInfo          = "info"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeAudio         = "audio"
	TypeAudioResponse = "audio_response"
	TypeAck           = "ack"
	TypeError         = "error"
)

const (
	// writeTimeout bounds a single frame write to one peer.
	writeTimeout = 10 * time.Second

	// dataURIPrefix is prepended to outbound base64 audio payloads.
	dataURIPrefix = "data:audio/wav;base64,"
)

// peer is one connected client with its bounded outbound queue.
type peer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// enqueue offers a frame to the peer without blocking. Reports whether the
// frame was accepted; a full queue drops the frame for this peer only.
func (p *peer) enqueue(frame []byte) bool {
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// Hub accepts peer connections and relays envelopes between them and the
// assistant. It implements [http.Handler] for the WebSocket endpoint.
type Hub struct {
	log        *slog.Logger
	metrics    *observe.Metrics
	audioDir   string
	onAudio    func(path string)
	sendBuffer int
	greeting   string

	mu     sync.RWMutex
	peers  map[*peer]struct{}
	closed bool
}

// Option is a functional option for configuring a Hub.
type Option func(*Hub)

// WithAudioDir sets where inbound audio replies are written.
// Defaults to "audio".
func WithAudioDir(dir string) Option {
	return func(h *Hub) {
		h.audioDir = dir
	}
}

// WithAudioCallback sets the function invoked with the path of each decoded
// inbound audio reply. It is called on the connection's read goroutine and
// must not block.
func WithAudioCallback(fn func(path string)) Option {
	return func(h *Hub) {
		h.onAudio = fn
	}
}

// WithSendBuffer sets the per-peer outbound queue length. A peer whose queue
// is full has frames dropped rather than stalling the rest. Defaults to 32.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		h.sendBuffer = n
	}
}

// WithGreeting sets the info text sent to every peer on connect.
func WithGreeting(text string) Option {
	return func(h *Hub) {
		h.greeting = text
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) {
		h.log = log
	}
}

// WithMetrics sets the metrics sink. A nil *Metrics records nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// New returns a Hub and creates the inbound audio directory.
func New(opts ...Option) (*Hub, error) {
	h := &Hub{
		log:        slog.Default(),
		audioDir:   "audio",
		sendBuffer: 32,
		greeting:   "Connected to Parley WebSocket server",
		peers:      make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.sendBuffer <= 0 {
		return nil, fmt.Errorf("relay: send buffer must be positive, got %d", h.sendBuffer)
	}
	if err := os.MkdirAll(h.audioDir, 0o755); err != nil {
		return nil, fmt.Errorf("relay: create audio dir: %w", err)
	}
	return h, nil
}

// Peers returns the number of connected peers.
func (h *Hub) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
// After [Hub.Close] new connections are refused.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Healthy() != nil {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Error("relay: websocket accept", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	p := &peer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}
	h.register(p)
	defer h.unregister(p)

	ctx := r.Context()
	h.log.Info("relay: peer connected", "peer", p.id, "remote", r.RemoteAddr)

	go h.writePump(ctx, p)

	h.sendTo(ctx, p, textEnvelope(TypeInfo, h.greeting))
	h.readLoop(ctx, p)
	h.log.Info("relay: peer disconnected", "peer", p.id)
}

// register adds a peer to the broadcast set.
func (h *Hub) register(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.metrics.AddConnectedPeers(context.Background(), 1)
}

// unregister removes a peer from the broadcast set. The peer's queue is
// never closed; a broadcast holding a stale snapshot may still enqueue, and
// the write pump exits with the handler's context instead.
func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	_, present := h.peers[p]
	delete(h.peers, p)
	h.mu.Unlock()
	if present {
		h.metrics.AddConnectedPeers(context.Background(), -1)
	}
}

// writePump drains one peer's queue onto the wire. Frames for a peer go
// through here only, preserving per-peer FIFO order.
func (h *Hub) writePump(ctx context.Context, p *peer) {
	for {
		select {
		case frame := <-p.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := p.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				h.log.Debug("relay: write failed", "peer", p.id, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop consumes frames from one peer until the connection drops.
func (h *Hub) readLoop(ctx context.Context, p *peer) {
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.log.Debug("relay: read ended", "peer", p.id, "error", err)
			}
			return
		}
		h.handleFrame(ctx, p, data)
	}
}

// handleFrame parses one inbound frame and dispatches it. Malformed or
// unknown frames get an error envelope; the connection survives.
func (h *Hub) handleFrame(ctx context.Context, p *peer, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.metrics.RecordRelayMessage(ctx, "malformed", "in")
		h.sendTo(ctx, p, textEnvelope(TypeError, "Invalid JSON message"))
		return
	}
	if env.Type == "" {
		h.metrics.RecordRelayMessage(ctx, "malformed", "in")
		h.sendTo(ctx, p, textEnvelope(TypeError, "Message missing type field"))
		return
	}
	h.metrics.RecordRelayMessage(ctx, env.Type, "in")

	switch env.Type {
	case TypePing:
		// The pong carries the ping's payload back so peers can match
		// replies to requests.
		h.sendTo(ctx, p, Envelope{Type: TypePong, Data: env.Data})
	case TypeAudioResponse:
		h.handleAudioResponse(ctx, p, env.Data)
	default:
		h.sendTo(ctx, p, textEnvelope(TypeError, "Unknown message type: "+env.Type))
	}
}

// handleAudioResponse decodes an inbound audio payload, writes it to the
// audio directory, and hands the path to the configured callback.
func (h *Hub) handleAudioResponse(ctx context.Context, p *peer, data json.RawMessage) {
	var payload string
	if err := json.Unmarshal(data, &payload); err != nil || payload == "" {
		h.sendTo(ctx, p, textEnvelope(TypeError, "Failed to process audio response"))
		return
	}

	// Accept both bare base64 and data URIs.
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		h.log.Warn("relay: bad audio payload", "peer", p.id, "error", err)
		h.sendTo(ctx, p, textEnvelope(TypeError, "Failed to process audio response"))
		return
	}

	path := filepath.Join(h.audioDir, fmt.Sprintf("response_%s.wav", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, decoded, 0o644); err != nil {
		h.log.Error("relay: write audio response", "path", path, "error", err)
		h.sendTo(ctx, p, textEnvelope(TypeError, "Failed to process audio response"))
		return
	}
	h.log.Info("relay: audio response received", "peer", p.id, "path", path, "bytes", len(decoded))

	if h.onAudio != nil {
		h.onAudio(path)
	}
	h.sendTo(ctx, p, textEnvelope(TypeAck, "Audio response received"))
}

// SendAudio reads the WAV file at path and broadcasts it to every connected
// peer as a base64 data URI. Reports whether at least one peer accepted the
// frame; no peers or a missing file is a quiet false, not an error.
func (h *Hub) SendAudio(path string) bool {
	peers := h.snapshot()
	if len(peers) == 0 {
		h.log.Warn("relay: no peers connected, audio not sent", "path", path)
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		h.log.Warn("relay: cannot read audio file", "path", path, "error", err)
		return false
	}

	env := textEnvelope(TypeAudio, dataURIPrefix+base64.StdEncoding.EncodeToString(data))
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Error("relay: marshal audio envelope", "error", err)
		return false
	}

	delivered := 0
	for _, p := range peers {
		if p.enqueue(frame) {
			delivered++
			h.metrics.RecordRelayMessage(context.Background(), TypeAudio, "out")
		} else {
			h.log.Warn("relay: peer queue full, dropping audio", "peer", p.id)
		}
	}
	h.log.Info("relay: audio broadcast", "path", path, "peers", delivered, "bytes", len(data))
	return delivered > 0
}

// Close disconnects every peer and marks the hub unhealthy. In-flight
// handlers unwind on their own.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	for _, p := range h.snapshot() {
		_ = p.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// Healthy reports whether the hub is still accepting peers. Used by the
// readiness endpoint.
func (h *Hub) Healthy() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errors.New("relay hub closed")
	}
	return nil
}

// snapshot copies the peer set so broadcasts never hold the lock during I/O.
func (h *Hub) snapshot() []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		out = append(out, p)
	}
	return out
}

// sendTo queues one envelope for one peer.
func (h *Hub) sendTo(ctx context.Context, p *peer, env Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Error("relay: marshal envelope", "type", env.Type, "error", err)
		return
	}
	if !p.enqueue(frame) {
		h.log.Warn("relay: peer queue full, dropping frame", "peer", p.id, "type", env.Type)
		return
	}
	h.metrics.RecordRelayMessage(ctx, env.Type, "out")
}

// textEnvelope builds an envelope whose payload is a JSON string.
func textEnvelope(typ, text string) Envelope {
	data, _ := json.Marshal(text)
	return Envelope{Type: typ, Data: data}
}
