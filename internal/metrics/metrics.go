// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// EventsTotal — общее число кадров, прочитанных из WebSocket.
	EventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "socket_client",
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Total number of frames read from the upstream WebSocket",
	})

	// ProcessedTotal — число envelope-ов, успешно опубликованных в NATS.
	ProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "socket_client",
		Subsystem: "pipeline",
		Name:      "processed_total",
		Help:      "Total number of envelopes published to the bus",
	})

	// DroppedTotal — число кадров, отброшенных из-за переполнения очереди
	// или неуспешной публикации (at-most-once).
	DroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "socket_client",
		Subsystem: "pipeline",
		Name:      "dropped_total",
		Help:      "Total number of frames dropped (queue overflow or failed publish)",
	})

	// ParseSkipped — кадры без выводимого имени стрима.
	ParseSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "socket_client",
		Subsystem: "ws",
		Name:      "parse_skipped_total",
		Help:      "Frames skipped because no stream name could be derived",
	})

	// PublishErrors — ошибки публикации по классам: disconnected | timeout | breaker_open | other.
	PublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socket_client",
		Subsystem: "nats",
		Name:      "publish_errors_total",
		Help:      "Total number of classified publish errors",
	}, []string{"class"})

	// ReconnectsTotal — число переподключений к WebSocket.
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "socket_client",
		Subsystem: "ws",
		Name:      "reconnects_total",
		Help:      "Total number of upstream reconnect attempts",
	})

	// QueueSize — текущая длина bounded queue.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "socket_client",
		Subsystem: "pipeline",
		Name:      "queue_size",
		Help:      "Current number of frames waiting in the bounded queue",
	})

	// PublishLatency — гистограмма задержек от дедекью до публикации в NATS.
	PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "socket_client",
		Subsystem: "pipeline",
		Name:      "publish_latency_seconds",
		Help:      "Latency from dequeue to successful bus publish (seconds)",
		Buckets:   prometheus.DefBuckets,
	})
)

// Register регистрирует все метрики в заданном реестре.
// Можно вызвать без аргументов, чтобы зарегистрировать в DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			EventsTotal,
			ProcessedTotal,
			DroppedTotal,
			ParseSkipped,
			PublishErrors,
			ReconnectsTotal,
			QueueSize,
			PublishLatency,
		)
	})
}
