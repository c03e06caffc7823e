// Package kafka publishes signal events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"crypto-signalv1/internal/model"
)

// Config configures the producer. No brokers disables the sink.
type Config struct {
	Brokers      []string      `yaml:"brokers" validate:"dive,hostname_port"`
	Topic        string        `yaml:"topic" default:"crypto.signals"`
	Compression  string        `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd none"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"100ms"`
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

// Event is the message value: the signal plus the row it was read on.
type Event struct {
	model.SignalInfo
	Row model.Row `json:"row"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is a model.Sink publishing one Event per defined signal, keyed by
// symbol so an instrument's events stay ordered within a partition.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a producer writing to cfg.Topic.
func NewProducer(cfg Config) (*Producer, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	return &Producer{writer: w, topic: cfg.Topic}, nil
}

// Name implements model.Sink.
func (p *Producer) Name() string { return "kafka" }

// Publish implements model.Sink. Cycles without a defined signal are skipped.
func (p *Producer) Publish(ctx context.Context, c model.Cycle) error {
	msg, ok, err := eventMessage(c)
	if err != nil || !ok {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func eventMessage(c model.Cycle) (kafka.Message, bool, error) {
	info, ok := c.Info()
	if !ok {
		return kafka.Message{}, false, nil
	}
	row, _ := c.LastRow()
	value, err := json.Marshal(Event{SignalInfo: info, Row: row})
	if err != nil {
		return kafka.Message{}, false, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(c.Symbol),
		Value: value,
		Time:  c.At,
		Headers: []kafka.Header{
			{Key: "signal", Value: []byte(info.Signal.String())},
			{Key: "interval", Value: []byte(c.Interval)},
		},
	}, true, nil
}

// Close flushes pending batches and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Gzip
	}
}
