// pkg/telemetry/otel.go
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

// Config задаёт параметры экспорта трассировки.
type Config struct {
	OTLPEndpoint   string // адрес OTLP-коллектора (host:port); пустой → трассировка выключена
	ServiceName    string
	ServiceVersion string
	Insecure       bool
}

// InitTracer настраивает глобальный TracerProvider с OTLP/gRPC-экспортером.
// Возвращает функцию shutdown, которую нужно вызвать при graceful-shutdown.
// При пустом endpoint трассировка не инициализируется и shutdown — no-op.
func InitTracer(ctx context.Context, cfg Config, log *logger.Logger) (shutdown func(context.Context) error, err error) {
	if cfg.OTLPEndpoint == "" {
		log.Sugar().Infow("telemetry: no OTLP endpoint configured, tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("telemetry: serviceName is required")
	}

	// 1) Контекст с таймаутом для создания экспортёра
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// 2) Настройка экспортёра
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithReconnectionPeriod(5 * time.Second),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(initCtx, opts...)
	if err != nil {
		log.Sugar().Errorw("telemetry: cannot create OTLP exporter", "error", err)
		return nil, fmt.Errorf("telemetry: cannot create OTLP exporter: %w", err)
	}

	// 3) Ресурс с service.name и service.version
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		log.Sugar().Errorw("telemetry: cannot create resource", "error", err)
		return nil, fmt.Errorf("telemetry: cannot create resource: %w", err)
	}

	// 4) Создаём TracerProvider с ParentBased sampler и батчевым экспортёром
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	// 5) Устанавливаем глобально TracerProvider и CompositePropagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	log.Sugar().Infow("telemetry: tracer initialized",
		"endpoint", cfg.OTLPEndpoint,
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
	)

	// 6) Функция graceful shutdown
	shutdown = func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Sugar().Errorw("telemetry: tracer shutdown failed", "error", err)
			return err
		}
		log.Sugar().Infow("telemetry: tracer shutdown complete")
		return nil
	}
	return shutdown, nil
}
