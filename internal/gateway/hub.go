package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/model"
)

// Hub is the dashboard renderer. It receives cycle snapshots as a sink and
// fans them out to WebSocket clients. It keeps only the newest envelope per
// instrument so late joiners get a full picture on connect.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer

	replaySize   int
	clientsGauge prometheus.Gauge
	upgrader     websocket.Upgrader
	logger       zerolog.Logger
}

type latestEntry struct {
	Data []byte // full envelope
	TS   time.Time
	Seq  int64
}

// Option customises a Hub.
type Option func(*Hub)

// WithReplaySize sets how many envelopes are kept per channel for backfill.
func WithReplaySize(n int) Option {
	return func(h *Hub) { h.replaySize = n }
}

// WithClientsGauge reports the connected client count.
func WithClientsGauge(g prometheus.Gauge) Option {
	return func(h *Hub) { h.clientsGauge = g }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replaySize:  100,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With().Str("component", "gateway").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements model.Sink.
func (h *Hub) Name() string { return "renderer" }

// Publish implements model.Sink. The cycle is encoded once and shared by
// every client.
func (h *Hub) Publish(_ context.Context, c model.Cycle) error {
	data, err := encodeCycle(&c)
	if err != nil {
		return err
	}
	h.Broadcast(channelFor(&c), data)
	return nil
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
// ?symbols=BTCUSDT,ETHUSDT restricts delivery; empty means everything.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	h.register(conn, r.URL.Query().Get("symbols"))
}

func (h *Hub) register(conn *websocket.Conn, symbols string) {
	client := newClient(h, conn, parseSymbols(symbols))

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.clientsGauge != nil {
		h.clientsGauge.Set(float64(count))
	}

	h.logger.Info().Int("clients", count).Msg("ws client connected")

	client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.clientsGauge != nil {
		h.clientsGauge.Set(float64(count))
	}
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	result := make([][]byte, len(entries))
	for i, e := range entries {
		result[i] = e.Data
	}
	return result
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.RemoveClient(c)
	}
}
