package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crypto-signalv1/internal/model"
)

type recordingSink struct {
	name  string
	err   error
	block chan struct{}

	mu  sync.Mutex
	got []model.Cycle
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, c model.Cycle) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.got = append(s.got, c)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcher_DeliversToAll(t *testing.T) {
	d := New(10, time.Second)
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d.Subscribe(a)
	d.Subscribe(b)

	ctx, cancel := context.WithCancel(context.Background())
	d.Run(ctx)

	d.Dispatch(model.Cycle{Symbol: "BTCUSDT", Interval: "1m", Price: 42})
	waitFor(t, func() bool { return a.count() == 1 && b.count() == 1 })

	if a.got[0].Price != 42 || b.got[0].Symbol != "BTCUSDT" {
		t.Errorf("a=%+v b=%+v", a.got[0], b.got[0])
	}
	cancel()
	d.Wait()
}

func TestDispatcher_SlowSinkDrops(t *testing.T) {
	d := New(1, time.Second)
	slow := &recordingSink{name: "slow", block: make(chan struct{})}
	d.Subscribe(slow)

	var mu sync.Mutex
	drops := map[string]int{}
	d.OnDrop = func(sink string) {
		mu.Lock()
		drops[sink]++
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.Run(ctx)

	// First is taken by the blocked worker, second fills the queue, third drops.
	d.Dispatch(model.Cycle{Symbol: "A"})
	waitFor(t, func() bool { return d.ChannelStats()[0].Len == 0 })
	d.Dispatch(model.Cycle{Symbol: "B"})
	d.Dispatch(model.Cycle{Symbol: "C"})

	mu.Lock()
	if drops["slow"] != 1 {
		t.Errorf("drops = %v, want 1 for slow", drops)
	}
	mu.Unlock()

	close(slow.block)
	cancel()
	d.Wait()
	if slow.count() != 2 {
		t.Errorf("slow sink got %d cycles, want 2", slow.count())
	}
}

func TestDispatcher_ReportsErrors(t *testing.T) {
	d := New(4, time.Second)
	boom := errors.New("boom")
	d.Subscribe(&recordingSink{name: "broken", err: boom})

	errs := make(chan error, 1)
	d.OnError = func(sink string, err error) { errs <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Run(ctx)
	d.Dispatch(model.Cycle{Symbol: "X"})

	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnError not called")
	}
	if names := d.Sinks(); len(names) != 1 || names[0] != "broken" {
		t.Errorf("sinks = %v", names)
	}
}
