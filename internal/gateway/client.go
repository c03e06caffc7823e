package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Symbols this client wants; empty means every symbol.
	subMu   sync.RWMutex
	symbols map[string]bool
}

// clientMsg is any message a client may send.
type clientMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
	Channel string   `json:"channel,omitempty"`
	FromSeq int64    `json:"from_seq,omitempty"`
	Ping    int64    `json:"ping,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn, symbols []string) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	c.subscribe(symbols)
	return c
}

func parseSymbols(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) subscribe(symbols []string) {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(s)] = true
	}
	c.subMu.Lock()
	c.symbols = set
	c.subMu.Unlock()
}

// wants reports whether the client subscribed to symbol.
func (c *Client) wants(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.symbols) == 0 || symbol == "" {
		return true
	}
	return c.symbols[symbol]
}

// sendInitialState queues the newest envelope of every wanted channel.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}

	for channel, entry := range c.hub.latest {
		if !c.wants(symbolOf(channel)) {
			continue
		}
		select {
		case c.send <- entry.Data:
		default:
		}
	}
}

func (c *Client) trySend(msg []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.logger.Info().Msg("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.subscribe(msg.Symbols)
			c.sendInitialState()

		case "REPLAY":
			// Backfill a gap detected through channel_seq.
			to := c.hub.GetChannelSeq(msg.Channel)
			for _, env := range c.hub.GetReplayRange(msg.Channel, msg.FromSeq, to) {
				c.trySend(env)
			}

		default:
			if msg.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.trySend(pong)
			}
		}
	}
}
