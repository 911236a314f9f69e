// internal/bridge/bridge.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PetroSa2/petrosa-socket-client/internal/metrics"
	"github.com/PetroSa2/petrosa-socket-client/internal/queue"
	"github.com/PetroSa2/petrosa-socket-client/internal/worker"
	"github.com/PetroSa2/petrosa-socket-client/pkg/backoff"
	"github.com/PetroSa2/petrosa-socket-client/pkg/binance"
	"github.com/PetroSa2/petrosa-socket-client/pkg/breaker"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
	"github.com/PetroSa2/petrosa-socket-client/pkg/natsbus"
)

// ErrReconnectBudget — фатальная ошибка: бюджет переподключений исчерпан.
var ErrReconnectBudget = errors.New("bridge: reconnect budget exhausted")

// Config задаёт параметры supervisor-а.
type Config struct {
	ReconnectBaseDelay   time.Duration // база backoff-а (default 5s)
	ReconnectMaxDelay    time.Duration // потолок backoff-а (default 60s)
	MaxReconnectAttempts int           // подряд неудач до фатала (default 10)
	HeartbeatInterval    time.Duration // период heartbeat-лога (default 60s)
	ShutdownTimeout      time.Duration // дедлайн на drain при остановке (default 30s)
	BusConnectBackoff    backoff.Config
}

func (c *Config) applyDefaults() {
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 5 * time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 60 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Bridge — supervisor конвейера: владеет сессией, очередью, пулом и шиной,
// двигает state machine и ведёт reconnection/heartbeat циклы.
type Bridge struct {
	cfg Config
	log *logger.Logger

	session binance.Connector
	bus     natsbus.Publisher
	queue   *queue.Queue
	pool    *worker.Pool
	wsBrk   *breaker.Breaker
	busBrk  *breaker.Breaker

	state      atomic.Int32
	reconnects atomic.Uint64
	fatal      atomic.Bool
	startTime  time.Time

	// счётчики на момент последнего heartbeat-а
	lastHBProcessed uint64
	lastHBDropped   uint64
	lastHBTime      time.Time

	// фоновый запуск через Start/Stop
	runMu     sync.Mutex
	runCancel context.CancelFunc
	runDone   chan error
}

// New создаёт Bridge. Все зависимости принадлежат supervisor-у и передаются
// по ссылке компонентам, которым они нужны.
func New(
	cfg Config,
	session binance.Connector,
	bus natsbus.Publisher,
	q *queue.Queue,
	pool *worker.Pool,
	wsBrk, busBrk *breaker.Breaker,
	log *logger.Logger,
) *Bridge {
	cfg.applyDefaults()
	return &Bridge{
		cfg:     cfg,
		log:     log.Named("bridge"),
		session: session,
		bus:     bus,
		queue:   q,
		pool:    pool,
		wsBrk:   wsBrk,
		busBrk:  busBrk,
	}
}

// Run запускает конвейер и блокируется до отмены ctx или фатальной ошибки.
// Отмена ctx — штатная остановка: DRAINING, дожим очереди, закрытие шины.
func (b *Bridge) Run(ctx context.Context) error {
	b.startTime = time.Now()
	b.lastHBTime = b.startTime

	// 1) Шина: ретраим под breaker-ом до успеха или отмены ctx.
	if err := b.connectBus(ctx); err != nil {
		return fmt.Errorf("bus acquire: %w", err)
	}

	// 2) Worker-пул живёт на собственном контексте: при остановке он должен
	// дожать очередь, а не умереть вместе с ctx.
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()

	poolDone := make(chan error, 1)
	go func() { poolDone <- b.pool.Run(drainCtx) }()

	// 3) Supervision: reconnection-цикл и heartbeat.
	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.connectionLoop(runCtx) })
	g.Go(func() error { return b.heartbeatLoop(runCtx) })

	err := g.Wait()

	// 4) Остановка: DRAINING → очередь закрыта → workers дожимают → шина закрыта.
	b.setState(Draining)
	_ = b.session.Close()
	b.queue.Close()

	drainTimer := time.NewTimer(b.cfg.ShutdownTimeout)
	defer drainTimer.Stop()
	select {
	case <-poolDone:
	case <-drainTimer.C:
		b.log.Sugar().Warnw("drain deadline exceeded, abandoning queued frames",
			"remaining", b.queue.Len())
		cancelDrain()
		<-poolDone
	}

	if cErr := b.bus.Close(); cErr != nil {
		b.log.Sugar().Warnw("bus close failed", "error", cErr)
	}
	b.setState(Stopped)
	b.log.Sugar().Infow("bridge stopped",
		"processed_total", b.pool.Processed(),
		"dropped_total", b.droppedTotal())

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// connectBus приобретает NATS-соединение под breaker-ом с backoff-ом.
func (b *Bridge) connectBus(ctx context.Context) error {
	return backoff.Execute(ctx, b.cfg.BusConnectBackoff, b.log, func(ctx context.Context) error {
		return b.busBrk.Execute(ctx, b.bus.Connect)
	})
}

// connectionLoop ведёт state machine сессии: подключение, чтение,
// переподключение с экспоненциальным backoff-ом, фатал при исчерпании бюджета.
func (b *Bridge) connectionLoop(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.setState(Connecting)
		err := b.wsBrk.Execute(ctx, b.session.Connect)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			b.reconnects.Add(1)
			metrics.ReconnectsTotal.Inc()
			b.log.Sugar().Warnw("ws connect failed",
				"attempt", attempt, "max_attempts", b.cfg.MaxReconnectAttempts, "error", err)

			if attempt >= b.cfg.MaxReconnectAttempts {
				b.fatal.Store(true)
				return fmt.Errorf("%w: %d consecutive failures: %v",
					ErrReconnectBudget, attempt, err)
			}
			if err := b.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		// полный handshake прошёл: счётчик подряд идущих неудач обнуляется
		attempt = 0
		b.setState(Connected)

		runErr := b.session.Run(ctx, b.queue)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.setState(Disconnected)
		attempt++
		b.reconnects.Add(1)
		metrics.ReconnectsTotal.Inc()
		b.log.Sugar().Warnw("ws disconnected, scheduling reconnect",
			"reason", runErr, "attempt", attempt)

		if attempt >= b.cfg.MaxReconnectAttempts {
			b.fatal.Store(true)
			return fmt.Errorf("%w: %d consecutive failures: %v",
				ErrReconnectBudget, attempt, runErr)
		}
		if err := b.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// sleepBackoff ждёт min(base·2^(attempt-1) + jitter, max) либо отмену ctx.
func (b *Bridge) sleepBackoff(ctx context.Context, attempt int) error {
	delay := b.backoffDelay(attempt)
	b.log.Sugar().Infow("reconnect backoff", "attempt", attempt, "delay", delay)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay: база удваивается на каждой подряд идущей неудаче,
// jitter ∈ [0, 1s), потолок — ReconnectMaxDelay.
func (b *Bridge) backoffDelay(attempt int) time.Duration {
	delay := b.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.cfg.ReconnectMaxDelay {
			return b.cfg.ReconnectMaxDelay
		}
	}
	delay += time.Duration(rand.Int63n(int64(time.Second)))
	if delay > b.cfg.ReconnectMaxDelay {
		delay = b.cfg.ReconnectMaxDelay
	}
	return delay
}

// heartbeatLoop пишет структурированный heartbeat с полным снапшотом метрик
// и производительностью за интервал.
func (b *Bridge) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.logHeartbeat()
		}
	}
}

func (b *Bridge) logHeartbeat() {
	now := time.Now()
	snap := b.Snapshot()

	elapsed := now.Sub(b.lastHBTime).Seconds()
	deltaProcessed := snap.ProcessedTotal - b.lastHBProcessed
	deltaDropped := snap.DroppedTotal - b.lastHBDropped

	var rate float64
	if elapsed > 0 {
		rate = float64(deltaProcessed) / elapsed
	}
	var overallRate float64
	if snap.UptimeSeconds > 0 {
		overallRate = float64(snap.ProcessedTotal) / snap.UptimeSeconds
	}

	b.log.Sugar().Infow("heartbeat",
		"upstream_state", snap.UpstreamState,
		"bus_state", snap.BusState,
		"processed_since_last", deltaProcessed,
		"dropped_since_last", deltaDropped,
		"messages_per_second", rate,
		"total_processed", snap.ProcessedTotal,
		"total_dropped", snap.DroppedTotal,
		"parse_skipped", snap.ParseSkipped,
		"overall_rate_per_second", overallRate,
		"queue_size", snap.QueueSize,
		"queue_utilization_percent", snap.QueueUtilization,
		"reconnect_attempts", snap.ReconnectAttempts,
		"uptime_seconds", snap.UptimeSeconds,
		"last_message_at", snap.LastMessageAt,
		"last_ping_at", snap.LastPingAt,
		"circuit_states", snap.CircuitStates,
	)

	b.lastHBTime = now
	b.lastHBProcessed = snap.ProcessedTotal
	b.lastHBDropped = snap.DroppedTotal
}

func (b *Bridge) setState(s SessionState) {
	b.state.Store(int32(s))
}

// State возвращает текущее состояние сессии.
func (b *Bridge) State() SessionState {
	return SessionState(b.state.Load())
}

func (b *Bridge) droppedTotal() uint64 {
	return b.queue.Dropped() + b.pool.Dropped()
}

// Snapshot собирает операционный срез. Каждое поле читается атомарно;
// строгая согласованность между полями не требуется.
func (b *Bridge) Snapshot() Snapshot {
	qLen, qCap := b.queue.Len(), b.queue.Cap()
	var util float64
	if qCap > 0 {
		util = float64(qLen) / float64(qCap) * 100
	}

	busState := "disconnected"
	if b.bus.Connected() {
		busState = "connected"
	}

	var uptime float64
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime).Seconds()
	}

	return Snapshot{
		ProcessedTotal:    b.pool.Processed(),
		DroppedTotal:      b.droppedTotal(),
		ParseSkipped:      b.session.ParseSkipped(),
		FramesRead:        b.session.FramesRead(),
		QueueSize:         qLen,
		QueueCapacity:     qCap,
		QueueUtilization:  util,
		ReconnectAttempts: b.reconnects.Load(),
		LastMessageAt:     b.session.LastMessageAt(),
		LastPingAt:        b.session.LastPingAt(),
		UptimeSeconds:     uptime,
		UpstreamState:     b.State().String(),
		BusState:          busState,
		Streams:           b.session.Streams(),
		CircuitStates: []breaker.Snapshot{
			b.wsBrk.GetSnapshot(),
			b.busBrk.GetSnapshot(),
		},
	}
}

// Ready — true, когда и upstream, и шина подключены.
func (b *Bridge) Ready() bool {
	return b.State() == Connected && b.bus.Connected()
}

// Healthy — true, пока бюджет переподключений не исчерпан.
func (b *Bridge) Healthy() bool {
	return !b.fatal.Load()
}
