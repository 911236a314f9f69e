// internal/bridge/bridge_test.go
package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PetroSa2/petrosa-socket-client/internal/queue"
	"github.com/PetroSa2/petrosa-socket-client/internal/worker"
	"github.com/PetroSa2/petrosa-socket-client/pkg/backoff"
	"github.com/PetroSa2/petrosa-socket-client/pkg/breaker"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
	"github.com/PetroSa2/petrosa-socket-client/pkg/natsbus"
)

// fakeSession — управляемая реализация binance.Connector.
type fakeSession struct {
	connectFn func(ctx context.Context) error
	runFn     func(ctx context.Context, out *queue.Queue) error

	connects atomic.Int32
	closed   atomic.Bool
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.connects.Add(1)
	if f.connectFn != nil {
		return f.connectFn(ctx)
	}
	return nil
}

func (f *fakeSession) Run(ctx context.Context, out *queue.Queue) error {
	if f.runFn != nil {
		return f.runFn(ctx, out)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSession) Close() error             { f.closed.Store(true); return nil }
func (f *fakeSession) Streams() []string        { return []string{"btcusdt@trade"} }
func (f *fakeSession) LastMessageAt() time.Time { return time.Time{} }
func (f *fakeSession) LastPingAt() time.Time    { return time.Time{} }
func (f *fakeSession) FramesRead() uint64       { return 0 }
func (f *fakeSession) ParseSkipped() uint64     { return 0 }

// fakeBus — управляемая реализация natsbus.Publisher.
type fakeBus struct {
	mu        sync.Mutex
	published int
	connected atomic.Bool
	publishFn func(ctx context.Context) error
}

func (f *fakeBus) Connect(ctx context.Context) error { f.connected.Store(true); return nil }
func (f *fakeBus) Publish(ctx context.Context, subject string, data []byte) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published++
	f.mu.Unlock()
	return nil
}
func (f *fakeBus) Connected() bool { return f.connected.Load() }
func (f *fakeBus) Close() error    { f.connected.Store(false); return nil }

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	return log
}

// newTestBridge собирает Bridge с fake-ами и быстрыми таймингами.
func newTestBridge(t *testing.T, sess *fakeSession, bus *fakeBus, qCap int) (*Bridge, *queue.Queue) {
	t.Helper()
	log := testLogger(t)
	q := queue.New(qCap, time.Second, log)
	busBrk := breaker.New(breaker.Config{Name: "nats", FailureThreshold: 5, RecoveryTimeout: time.Minute}, log)
	wsBrk := breaker.New(breaker.Config{Name: "ws", FailureThreshold: 100, RecoveryTimeout: time.Minute}, log)
	pool := worker.New(worker.Config{Workers: 3, Subject: "subj"}, q, bus, busBrk, nil, nil, log)

	cfg := Config{
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    50 * time.Millisecond,
		MaxReconnectAttempts: 3,
		HeartbeatInterval:    50 * time.Millisecond,
		ShutdownTimeout:      500 * time.Millisecond,
		BusConnectBackoff:    backoff.Config{InitialInterval: time.Millisecond, MaxElapsedTime: time.Second},
	}
	return New(cfg, sess, bus, q, pool, wsBrk, busBrk, log), q
}

func TestBridge_EndToEndPublish(t *testing.T) {
	sess := &fakeSession{}
	sess.runFn = func(ctx context.Context, out *queue.Queue) error {
		for i := 0; i < 10; i++ {
			out.Enqueue(queue.Item{Stream: "btcusdt@trade", Data: map[string]any{"i": i}})
		}
		<-ctx.Done()
		return ctx.Err()
	}
	bus := &fakeBus{}
	b, _ := newTestBridge(t, sess, bus, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return bus.count() == 10 })
	if !b.Ready() {
		t.Error("bridge must be Ready while connected")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v; want nil on orderly stop", err)
	}
	if b.State() != Stopped {
		t.Errorf("final state = %v; want Stopped", b.State())
	}
	if !sess.closed.Load() {
		t.Error("session must be closed on stop")
	}
}

func TestBridge_ReconnectAfterDisconnect(t *testing.T) {
	var runs atomic.Int32
	sess := &fakeSession{}
	sess.runFn = func(ctx context.Context, out *queue.Queue) error {
		if runs.Add(1) == 1 {
			return errors.New("read: connection reset")
		}
		<-ctx.Done()
		return ctx.Err()
	}
	bus := &fakeBus{}
	b, _ := newTestBridge(t, sess, bus, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// после обрыва supervisor переподключается и снова входит в Connected
	waitFor(t, time.Second, func() bool {
		return sess.connects.Load() == 2 && b.State() == Connected
	})
	if got := b.Snapshot().ReconnectAttempts; got != 1 {
		t.Errorf("reconnect_attempts = %d; want 1", got)
	}

	cancel()
	<-done
}

func TestBridge_ReconnectBudgetFatal(t *testing.T) {
	sess := &fakeSession{connectFn: func(ctx context.Context) error {
		return errors.New("dial: refused")
	}}
	bus := &fakeBus{}
	b, _ := newTestBridge(t, sess, bus, 10)

	err := b.Run(context.Background())
	if !errors.Is(err, ErrReconnectBudget) {
		t.Fatalf("Run returned %v; want ErrReconnectBudget", err)
	}
	if b.Healthy() {
		t.Error("Healthy must be false after budget exhaustion")
	}
	if got := b.Snapshot().ReconnectAttempts; got != 3 {
		t.Errorf("reconnect_attempts = %d; want 3", got)
	}
}

func TestBridge_StopDrainsQueue(t *testing.T) {
	enqueued := make(chan struct{})
	sess := &fakeSession{}
	sess.runFn = func(ctx context.Context, out *queue.Queue) error {
		for i := 0; i < 50; i++ {
			out.Enqueue(queue.Item{Stream: "s@trade", Data: map[string]any{"i": i}})
		}
		close(enqueued)
		<-ctx.Done()
		return ctx.Err()
	}
	bus := &fakeBus{}
	b, q := newTestBridge(t, sess, bus, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	<-enqueued
	cancel()
	<-done

	// все кадры либо опубликованы, либо посчитаны отброшенными
	total := bus.count() + int(q.Dropped())
	if total != 50 {
		t.Errorf("published+dropped = %d; want 50", total)
	}
	if bus.count() == 0 {
		t.Error("drain must publish queued frames")
	}
}

func TestBridge_QueueOverflowUnderStalledBus(t *testing.T) {
	release := make(chan struct{})
	bus := &fakeBus{publishFn: func(ctx context.Context) error {
		// шина «висит» до release либо отмены
		select {
		case <-release:
			return natsbus.ErrDisconnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}}

	injected := make(chan struct{})
	sess := &fakeSession{}
	sess.runFn = func(ctx context.Context, out *queue.Queue) error {
		for i := 0; i < 6000; i++ {
			out.Enqueue(queue.Item{Stream: "s@trade", Data: map[string]any{"i": i}})
		}
		close(injected)
		<-ctx.Done()
		return ctx.Err()
	}
	b, q := newTestBridge(t, sess, bus, 5000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	<-injected
	snap := b.Snapshot()
	if snap.ProcessedTotal != 0 {
		t.Errorf("processed = %d; want 0 while bus stalled", snap.ProcessedTotal)
	}
	if q.Dropped() < 900 {
		t.Errorf("dropped = %d; want ~1000 (6000 injected, 5000 capacity, workers blocked)", q.Dropped())
	}

	close(release)
	cancel()
	<-done
}

func TestBridge_ReadyReflectsBothEndpoints(t *testing.T) {
	sess := &fakeSession{}
	bus := &fakeBus{}
	b, _ := newTestBridge(t, sess, bus, 10)

	if b.Ready() {
		t.Error("Ready must be false before start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, time.Second, func() bool { return b.Ready() })

	cancel()
	<-done
	if b.Ready() {
		t.Error("Ready must be false after stop")
	}
}

func TestBridge_BackoffDelayBounds(t *testing.T) {
	log := testLogger(t)
	b := New(Config{ReconnectBaseDelay: 5 * time.Second, ReconnectMaxDelay: 60 * time.Second},
		&fakeSession{}, &fakeBus{}, queue.New(1, time.Second, log), nil, nil, nil, log)

	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 5 * time.Second, 6 * time.Second},
		{2, 10 * time.Second, 11 * time.Second},
		{3, 20 * time.Second, 21 * time.Second},
		{4, 40 * time.Second, 41 * time.Second},
		{5, 60 * time.Second, 60 * time.Second}, // cap
		{10, 60 * time.Second, 60 * time.Second},
	}
	for _, c := range cases {
		for i := 0; i < 20; i++ {
			d := b.backoffDelay(c.attempt)
			if d < c.min || d > c.max {
				t.Errorf("attempt %d: delay %v outside [%v, %v]", c.attempt, d, c.min, c.max)
			}
		}
	}
}

func TestBridge_StartStopLifecycle(t *testing.T) {
	sess := &fakeSession{}
	bus := &fakeBus{}
	b, _ := newTestBridge(t, sess, bus, 10)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}

	waitFor(t, time.Second, func() bool { return b.Ready() })

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// повторный Stop — no-op
	if err := b.Stop(stopCtx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

// waitFor опрашивает cond до таймаута.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
