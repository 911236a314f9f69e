// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PetroSa2/petrosa-socket-client/internal/bridge"
	"github.com/PetroSa2/petrosa-socket-client/internal/config"
	"github.com/PetroSa2/petrosa-socket-client/internal/envelope"
	"github.com/PetroSa2/petrosa-socket-client/internal/httpserver"
	"github.com/PetroSa2/petrosa-socket-client/internal/metrics"
	"github.com/PetroSa2/petrosa-socket-client/internal/queue"
	"github.com/PetroSa2/petrosa-socket-client/internal/worker"
	"github.com/PetroSa2/petrosa-socket-client/pkg/binance"
	"github.com/PetroSa2/petrosa-socket-client/pkg/breaker"
	"github.com/PetroSa2/petrosa-socket-client/pkg/configstore"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
	"github.com/PetroSa2/petrosa-socket-client/pkg/natsbus"
	"github.com/PetroSa2/petrosa-socket-client/pkg/telemetry"
)

// Run собирает конвейер и блокируется до отмены ctx или фатальной ошибки.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	metrics.Register(nil)

	// Трассировка (выключена при пустом endpoint)
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)

	// Runtime-конфиг из хранилища: читается один раз при старте
	if cfg.ConfigStore.Enabled {
		if err := applyStoredConfig(ctx, cfg, log); err != nil {
			return fmt.Errorf("config store: %w", err)
		}
	}

	// 1) Upstream-сессия
	session, err := binance.NewSession(binance.Config{
		URL:              cfg.Binance.WSURL,
		Streams:          cfg.Binance.Streams,
		ReadTimeout:      cfg.Binance.ReadTimeout,
		SubscribeTimeout: cfg.Binance.SubscribeTimeout,
		PingInterval:     cfg.Binance.PingInterval,
		CloseTimeout:     cfg.Binance.CloseTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("binance session init: %w", err)
	}

	// 2) NATS-шина
	bus, err := natsbus.New(natsbus.Config{
		URL:          cfg.NATS.URL,
		ClientName:   cfg.NATS.ClientName,
		FlushTimeout: cfg.NATS.FlushTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("nats bus init: %w", err)
	}

	// 3) Breaker-ы: один на dial, один на publish
	wsBrk := breaker.New(breaker.Config{
		Name:             "websocket",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	}, log)
	busBrk := breaker.New(breaker.Config{
		Name:             "nats",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	}, log)

	// 4) Очередь и worker-пул
	q := queue.New(cfg.Queue.Capacity, cfg.Queue.LogThrottle, log)

	var injector envelope.TraceInjector
	if cfg.Telemetry.OTLPEndpoint != "" {
		injector = telemetry.NewInjector()
	}
	pool := worker.New(worker.Config{
		Workers: cfg.Workers,
		Subject: cfg.NATS.Subject,
	}, q, bus, busBrk, injector, nil, log)

	// 5) Supervisor
	br := bridge.New(bridge.Config{
		ReconnectBaseDelay:   cfg.Reconnect.BaseDelay,
		ReconnectMaxDelay:    cfg.Reconnect.MaxDelay,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		HeartbeatInterval:    cfg.Heartbeat,
		ShutdownTimeout:      cfg.ShutdownWait,
	}, session, bus, q, pool, wsBrk, busBrk, log)

	// 6) HTTP surface поверх снапшотов bridge-а
	httpSrv := httpserver.New(cfg.HTTP, cfg.ServiceName, cfg.ServiceVersion, br, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(ctx) })
	g.Go(func() error { return br.Run(ctx) })

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Sugar().Infow("socket-client stopped by context")
			return nil
		}
		return err
	}
	return nil
}

// applyStoredConfig накладывает документ из хранилища на конфиг процесса.
// Отсутствие документа — штатная ситуация.
func applyStoredConfig(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	store, err := configstore.New(ctx, configstore.Config{
		URL:       cfg.ConfigStore.URL,
		KeyPrefix: cfg.ConfigStore.KeyPrefix,
	}, log)
	if err != nil {
		return err
	}
	defer shutdownSafe(ctx, "config-store", store.Close, log)

	doc, err := store.Get(ctx, cfg.ServiceName)
	if errors.Is(err, configstore.ErrNotFound) {
		log.Sugar().Infow("no stored config, using defaults", "service_id", cfg.ServiceName)
		return nil
	}
	if err != nil {
		return err
	}

	if len(doc.Streams) > 0 {
		cfg.Binance.Streams = doc.Streams
	}
	if r := doc.Reconnect; r != nil {
		if r.BaseDelay > 0 {
			cfg.Reconnect.BaseDelay = r.BaseDelay
		}
		if r.MaxDelay > 0 {
			cfg.Reconnect.MaxDelay = r.MaxDelay
		}
		if r.MaxAttempts > 0 {
			cfg.Reconnect.MaxAttempts = r.MaxAttempts
		}
	}
	if b := doc.Breaker; b != nil {
		if b.FailureThreshold > 0 {
			cfg.Breaker.FailureThreshold = b.FailureThreshold
		}
		if b.RecoveryTimeout > 0 {
			cfg.Breaker.RecoveryTimeout = b.RecoveryTimeout
		}
	}

	log.Sugar().Infow("stored config applied",
		"service_id", cfg.ServiceName,
		"streams", cfg.Binance.Streams,
		"updated_by", doc.UpdatedBy,
	)
	return nil
}

// shutdownSafe оборачивает вызов Close()/Shutdown() с логированием.
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Infof("%s: shutting down", name)
	if err := fn(); err != nil {
		log.Raw().Error(fmt.Sprintf("%s shutdown error", name), zap.Error(err))
	} else {
		log.WithContext(ctx).Infof("%s: shutdown complete", name)
	}
}
