// pkg/configstore/store.go
package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

// ErrNotFound возвращается, если для service id нет сохранённого документа.
var ErrNotFound = errors.New("configstore: document not found")

var (
	storeMetrics = struct {
		GetErrors prometheus.Counter
		SetErrors prometheus.Counter
		Latency   prometheus.Histogram
	}{
		GetErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socket_client", Subsystem: "configstore", Name: "get_errors_total",
			Help: "Total number of errors on config GET",
		}),
		SetErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "socket_client", Subsystem: "configstore", Name: "set_errors_total",
			Help: "Total number of errors on config SET",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "socket_client", Subsystem: "configstore", Name: "operation_latency_seconds",
			Help:    "Latency of config store operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registerOnce sync.Once
)

func registerMetrics(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(storeMetrics.GetErrors, storeMetrics.SetErrors, storeMetrics.Latency)
	})
}

// ReconnectOverride — переопределение настроек переподключения.
type ReconnectOverride struct {
	BaseDelay   time.Duration `json:"base_delay,omitempty"`
	MaxDelay    time.Duration `json:"max_delay,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
}

// BreakerOverride — переопределение порогов circuit breaker-а.
type BreakerOverride struct {
	FailureThreshold int           `json:"failure_threshold,omitempty"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout,omitempty"`
}

// Document — runtime-конфигурация одного сервиса. Читается один раз при старте;
// набор подписок в работающей сессии неизменяем.
type Document struct {
	Streams   []string           `json:"streams,omitempty"`
	Reconnect *ReconnectOverride `json:"reconnect,omitempty"`
	Breaker   *BreakerOverride   `json:"breaker,omitempty"`
	UpdatedBy string             `json:"updated_by,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	UpdatedAt time.Time          `json:"updated_at,omitempty"`
}

// Config задаёт параметры подключения к Redis.
type Config struct {
	URL       string // например "redis://host:6379/0"
	KeyPrefix string // например "socket-client:config"
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "socket-client:config"
	}
}

// Store — Redis-хранилище runtime-конфигурации, ключ — service id.
type Store struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// New создаёт Store и проверяет соединение ping-ом.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	cfg.applyDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("configstore: URL required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("configstore: parse URL: %w", err)
	}
	registerMetrics(prometheus.DefaultRegisterer)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("configstore: ping: %w", err)
	}
	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		log:    log.Named("config-store"),
	}, nil
}

func (s *Store) key(serviceID string) string {
	return s.prefix + ":" + serviceID
}

// Get читает документ для serviceID. Отсутствие ключа → ErrNotFound.
func (s *Store) Get(ctx context.Context, serviceID string) (*Document, error) {
	start := time.Now()
	raw, err := s.client.Get(ctx, s.key(serviceID)).Bytes()
	storeMetrics.Latency.Observe(time.Since(start).Seconds())

	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		storeMetrics.GetErrors.Inc()
		return nil, fmt.Errorf("configstore get %q: %w", serviceID, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		storeMetrics.GetErrors.Inc()
		return nil, fmt.Errorf("configstore decode %q: %w", serviceID, err)
	}
	return &doc, nil
}

// Set сохраняет документ для serviceID с меткой времени обновления.
func (s *Store) Set(ctx context.Context, serviceID string, doc Document) error {
	doc.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(doc)
	if err != nil {
		storeMetrics.SetErrors.Inc()
		return fmt.Errorf("configstore encode %q: %w", serviceID, err)
	}

	start := time.Now()
	err = s.client.Set(ctx, s.key(serviceID), raw, 0).Err()
	storeMetrics.Latency.Observe(time.Since(start).Seconds())
	if err != nil {
		storeMetrics.SetErrors.Inc()
		return fmt.Errorf("configstore set %q: %w", serviceID, err)
	}

	s.log.Sugar().Infow("config updated",
		"service_id", serviceID,
		"updated_by", doc.UpdatedBy,
		"reason", doc.Reason,
	)
	return nil
}

// Close закрывает соединение с Redis.
func (s *Store) Close() error {
	return s.client.Close()
}
