// pkg/logger/logger.go
package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextKey — тип ключа для context.Value, чтобы избежать коллизий.
type contextKey string

const (
	// TraceIDKey используется для хранения trace ID в контексте.
	TraceIDKey contextKey = "trace_id"
	// RequestIDKey используется для хранения request ID в контексте.
	RequestIDKey contextKey = "request_id"
)

// Config задаёт уровень и режим логирования.
type Config struct {
	Level   string // debug | info | warn | error
	DevMode bool   // человекочитаемый вывод вместо JSON
}

// Logger объединяет *zap.Logger и *zap.SugaredLogger,
// а также обеспечивает метод Sync().
type Logger struct {
	raw   *zap.Logger
	sugar *zap.SugaredLogger
}

// New создаёт Logger с заданным уровнем и режимом.
// При завершении работы приложения обязательно вызовите logger.Sync().
func New(cfg Config) (*Logger, error) {
	// 1. Настройка базового конфига.
	var zcfg zap.Config
	if cfg.DevMode {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	// 2. Разбор уровня логирования.
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	// 3. Форматирование вывода.
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.StacktraceKey = "stacktrace"

	// 4. Сборка логгера (skip один уровень вызова для корректного caller).
	raw, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{
		raw:   raw,
		sugar: raw.Sugar(),
	}, nil
}

// Sugar возвращает *zap.SugaredLogger.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Raw возвращает базовый *zap.Logger для строго типизированных полей.
func (l *Logger) Raw() *zap.Logger {
	return l.raw
}

// Sync сбрасывает буферизированные записи. Вызывать перед выходом.
func (l *Logger) Sync() error {
	return l.raw.Sync()
}

// Named создаёт новый логгер с namespace-приставкой.
func (l *Logger) Named(name string) *Logger {
	rawN := l.raw.Named(name)
	return &Logger{
		raw:   rawN,
		sugar: rawN.Sugar(),
	}
}

// WithContext возвращает *zap.SugaredLogger с полями trace_id и request_id,
// если они присутствуют в ctx.
func (l *Logger) WithContext(ctx context.Context) *zap.SugaredLogger {
	fields := make([]interface{}, 0, 2)
	if tid := ctx.Value(TraceIDKey); tid != nil {
		fields = append(fields, "trace_id", tid)
	}
	if rid := ctx.Value(RequestIDKey); rid != nil {
		fields = append(fields, "request_id", rid)
	}
	if len(fields) > 0 {
		return l.sugar.With(fields...)
	}
	return l.sugar
}

// ContextWithTraceID возвращает новый контекст с заданным trace ID.
func ContextWithTraceID(ctx context.Context, tid string) context.Context {
	return context.WithValue(ctx, TraceIDKey, tid)
}

// ContextWithRequestID возвращает новый контекст с заданным request ID.
func ContextWithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, RequestIDKey, rid)
}
