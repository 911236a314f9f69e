// internal/worker/pool.go
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PetroSa2/petrosa-socket-client/internal/envelope"
	"github.com/PetroSa2/petrosa-socket-client/internal/metrics"
	"github.com/PetroSa2/petrosa-socket-client/internal/queue"
	"github.com/PetroSa2/petrosa-socket-client/pkg/breaker"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
	"github.com/PetroSa2/petrosa-socket-client/pkg/natsbus"
)

var tracer = otel.Tracer("socket-client/worker")

// Config задаёт параметры worker-пула.
type Config struct {
	Workers int    // число worker-ов (default 5)
	Subject string // NATS subject для публикации
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.Subject == "" {
		c.Subject = "binance.websocket.data"
	}
}

// Pool — N одинаковых worker-ов: dequeue → envelope → publish.
// Каждый кадр публикуется не более одного раза; неуспех не ретраится.
type Pool struct {
	cfg      Config
	queue    *queue.Queue
	bus      natsbus.Publisher
	busBrk   *breaker.Breaker
	injector envelope.TraceInjector
	clock    envelope.Clock
	log      *logger.Logger

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// New создаёт Pool. clock == nil → системные часы.
func New(
	cfg Config,
	q *queue.Queue,
	bus natsbus.Publisher,
	busBrk *breaker.Breaker,
	injector envelope.TraceInjector,
	clock envelope.Clock,
	log *logger.Logger,
) *Pool {
	cfg.applyDefaults()
	return &Pool{
		cfg:      cfg,
		queue:    q,
		bus:      bus,
		busBrk:   busBrk,
		injector: injector,
		clock:    clock,
		log:      log.Named("worker"),
	}
}

// Run запускает worker-ов и блокируется до их кооперативного завершения:
// очередь закрыта и выбрана, либо ctx отменён.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		g.Go(func() error { return p.runWorker(ctx, id) })
	}
	return g.Wait()
}

// runWorker — цикл одного worker-а. Builder локален: таймстемпы
// монотонны в пределах worker-а без разделяемого состояния.
func (p *Pool) runWorker(ctx context.Context, id int) error {
	log := p.log.Sugar().With("worker_id", id)
	log.Debugw("worker started")
	defer log.Debugw("worker stopped")

	builder := envelope.NewBuilder(p.clock, p.injector)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok := <-p.queue.Chan():
			if !ok {
				return nil
			}
			metrics.QueueSize.Set(float64(p.queue.Len()))
			p.process(ctx, builder, it, log)
		}
	}
}

// process строит envelope и публикует его под bus-breaker-ом.
func (p *Pool) process(ctx context.Context, builder *envelope.Builder, it queue.Item, log *zap.SugaredLogger) {
	ctx, span := tracer.Start(ctx, "Process",
		trace.WithAttributes(attribute.String("stream", it.Stream)))
	defer span.End()

	env, err := builder.Build(ctx, it.Stream, it.Data)
	if err != nil {
		metrics.ParseSkipped.Inc()
		log.Warnw("envelope build failed, dropping", "stream", it.Stream, "error", err)
		span.RecordError(err)
		return
	}

	payload, err := env.Marshal()
	if err != nil {
		p.dropped.Add(1)
		metrics.DroppedTotal.Inc()
		log.Errorw("envelope marshal failed, dropping", "stream", it.Stream, "error", err)
		span.RecordError(err)
		return
	}

	start := time.Now()
	err = p.busBrk.Execute(ctx, func(ctx context.Context) error {
		return p.bus.Publish(ctx, p.cfg.Subject, payload)
	})
	if err != nil {
		// at-most-once: одна попытка, кадр отбрасывается
		p.dropped.Add(1)
		metrics.DroppedTotal.Inc()
		metrics.PublishErrors.WithLabelValues(classLabel(err)).Inc()
		log.Warnw("publish failed, dropping frame",
			"stream", it.Stream, "class", classLabel(err), "error", err)
		span.RecordError(err)
		return
	}

	p.processed.Add(1)
	metrics.ProcessedTotal.Inc()
	metrics.PublishLatency.Observe(time.Since(start).Seconds())
}

// Processed возвращает число успешно опубликованных envelope-ов.
func (p *Pool) Processed() uint64 { return p.processed.Load() }

// Dropped возвращает число кадров, отброшенных после dequeue.
func (p *Pool) Dropped() uint64 { return p.dropped.Load() }

// classLabel переводит классифицированную ошибку в значение метки метрики.
func classLabel(err error) string {
	switch {
	case errors.Is(err, breaker.ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, natsbus.ErrDisconnected):
		return "disconnected"
	case errors.Is(err, natsbus.ErrTimeout):
		return "timeout"
	default:
		return "other"
	}
}
