package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"crypto-signalv1/internal/model"
)

// Reader reads back the signal log Publisher writes. It serves the API
// when the local recorder is disabled.
type Reader struct {
	client *goredis.Client
}

// NewReader wraps an existing client.
func NewReader(client *goredis.Client) *Reader {
	return &Reader{client: client}
}

// ReadSignals returns the newest limit signal records, newest first.
func (r *Reader) ReadSignals(ctx context.Context, symbol string, limit int) ([]model.SignalInfo, error) {
	msgs, err := r.client.XRevRangeN(ctx, SignalStream(symbol), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrevrange %s: %w", symbol, err)
	}
	return decodeSignals(msgs)
}

func decodeSignals(msgs []goredis.XMessage) ([]model.SignalInfo, error) {
	out := make([]model.SignalInfo, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var info model.SignalInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("unmarshal signal %s: %w", m.ID, err)
		}
		out = append(out, info)
	}
	return out, nil
}
