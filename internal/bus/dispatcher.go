// Package bus fans cycle snapshots out to the configured sinks.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-signalv1/internal/model"
)

// Dispatcher delivers each cycle to every sink on its own goroutine.
// If a sink's queue is full the cycle is dropped for that sink so a slow
// renderer or store never blocks the poll loop.
type Dispatcher struct {
	mu      sync.RWMutex
	outputs []*output
	bufSize int
	timeout time.Duration
	wg      sync.WaitGroup
	logger  zerolog.Logger

	// OnDrop is called when a cycle is dropped for a sink.
	OnDrop func(sink string)
	// OnError is called when a sink fails to publish.
	OnError func(sink string, err error)
	// OnPublished reports per-sink publish latency.
	OnPublished func(sink string, d time.Duration)
}

type output struct {
	sink model.Sink
	ch   chan model.Cycle
}

// New creates a Dispatcher with the given per-sink queue size and publish timeout.
func New(bufSize int, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		bufSize: bufSize,
		timeout: timeout,
		logger:  log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers a sink. Must be called before Run.
func (d *Dispatcher) Subscribe(s model.Sink) {
	d.mu.Lock()
	d.outputs = append(d.outputs, &output{sink: s, ch: make(chan model.Cycle, d.bufSize)})
	d.mu.Unlock()
}

// Sinks returns the registered sink names in subscription order.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.outputs))
	for i, o := range d.outputs {
		names[i] = o.sink.Name()
	}
	return names
}

// Run starts one worker per sink. The workers drain their queues and exit
// once ctx is cancelled; Wait blocks until they have.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, o := range d.outputs {
		d.wg.Add(1)
		go d.worker(ctx, o)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch enqueues c for every sink without blocking.
func (d *Dispatcher) Dispatch(c model.Cycle) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, o := range d.outputs {
		select {
		case o.ch <- c:
		default:
			if d.OnDrop != nil {
				d.OnDrop(o.sink.Name())
			} else {
				d.logger.Warn().Str("sink", o.sink.Name()).Str("key", c.Key()).Msg("sink queue full, dropping cycle")
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, o *output) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			d.drain(o)
			return
		case c := <-o.ch:
			d.publish(context.Background(), o.sink, c)
		}
	}
}

// drain flushes what is already queued on shutdown.
func (d *Dispatcher) drain(o *output) {
	for {
		select {
		case c := <-o.ch:
			d.publish(context.Background(), o.sink, c)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(parent context.Context, s model.Sink, c model.Cycle) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	start := time.Now()
	err := s.Publish(ctx, c)
	if d.OnPublished != nil {
		d.OnPublished(s.Name(), time.Since(start))
	}
	if err == nil {
		return
	}
	if d.OnError != nil {
		d.OnError(s.Name(), err)
	}
	d.logger.Error().Err(err).Str("sink", s.Name()).Str("key", c.Key()).Msg("sink publish failed")
}

// ChannelStat reports a sink queue's fill level.
type ChannelStat struct {
	Sink string
	Len  int
	Cap  int
}

// ChannelStats returns the queue fill of each sink.
func (d *Dispatcher) ChannelStats() []ChannelStat {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := make([]ChannelStat, len(d.outputs))
	for i, o := range d.outputs {
		stats[i] = ChannelStat{Sink: o.sink.Name(), Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}
