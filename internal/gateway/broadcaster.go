package gateway

import (
	"strconv"
	"strings"
	"time"

	"crypto-signalv1/internal/model"
)

// channelFor returns the channel a cycle is published on: "cycle:SYMBOL:INTERVAL".
func channelFor(c *model.Cycle) string {
	return "cycle:" + c.Key()
}

// symbolOf extracts the symbol from a channel name. Non-cycle channels return "".
func symbolOf(channel string) string {
	parts := strings.SplitN(channel, ":", 3)
	if len(parts) < 2 || parts[0] != "cycle" {
		return ""
	}
	return parts[1]
}

// encodeCycle renders a cycle as the dashboard payload.
func encodeCycle(c *model.Cycle) ([]byte, error) {
	return c.JSON()
}

// Broadcast sends data on a channel to all subscribed clients.
// The envelope is hand-built so the already encoded payload is not re-marshalled.
// channel_seq lets a client detect gaps and backfill from the replay buffer.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq

	buf := buildEnvelope(channel, data, now, seq, channelSeq)
	h.latest[channel] = latestEntry{Data: buf, TS: now, Seq: channelSeq}

	rb, exists := h.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(h.replaySize)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()
	rb.Push(channelSeq, buf)

	symbol := symbolOf(channel)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(symbol) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			h.logger.Warn().Str("channel", channel).Msg("ws client queue full, envelope dropped")
		}
	}
}

func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"type":"cycle","channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}
