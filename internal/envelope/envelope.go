// internal/envelope/envelope.go
package envelope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// Source — константный тег источника во всех envelope-ах.
	Source = "binance-websocket"
	// Version — версия схемы envelope.
	Version = "1.0"
	// timestampLayout — ISO-8601 UTC с миллисекундами и суффиксом Z.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Clock отдаёт текущее время; подменяется в тестах.
type Clock interface {
	Now() time.Time
}

// SystemClock — production-реализация Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TraceInjector добавляет trace-контекст в envelope, если трассировка включена.
// nil-инжектор — штатная ситуация: поле trace_context просто отсутствует.
type TraceInjector interface {
	Inject(ctx context.Context) map[string]string
}

// Envelope — каноническая запись, публикуемая в NATS.
// Поле data прозрачно: bridge не интерпретирует payload.
type Envelope struct {
	Stream       string            `json:"stream"`
	Data         map[string]any    `json:"data"`
	Timestamp    string            `json:"timestamp"`
	MessageID    string            `json:"message_id"`
	Source       string            `json:"source"`
	Version      string            `json:"version"`
	TraceContext map[string]string `json:"trace_context,omitempty"`
}

// Builder собирает envelope-ы для одного worker-а.
// Таймстемпы монотонны: новый envelope никогда не старше предыдущего.
type Builder struct {
	clock    Clock
	injector TraceInjector
	lastTS   time.Time
}

// NewBuilder создаёт Builder. clock == nil → системные часы.
func NewBuilder(clock Clock, injector TraceInjector) *Builder {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Builder{clock: clock, injector: injector}
}

// Build создаёт envelope c новым message_id и текущим таймстемпом.
// Возвращает ошибку при пустом stream или nil data.
func (b *Builder) Build(ctx context.Context, stream string, data map[string]any) (*Envelope, error) {
	if stream == "" {
		return nil, fmt.Errorf("envelope: stream is required")
	}
	if data == nil {
		return nil, fmt.Errorf("envelope: data is required")
	}

	now := b.clock.Now().UTC()
	if now.Before(b.lastTS) {
		now = b.lastTS
	}
	b.lastTS = now

	env := &Envelope{
		Stream:    stream,
		Data:      data,
		Timestamp: now.Format(timestampLayout),
		MessageID: uuid.NewString(),
		Source:    Source,
		Version:   Version,
	}
	if b.injector != nil {
		if tc := b.injector.Inject(ctx); len(tc) > 0 {
			env.TraceContext = tc
		}
	}
	return env, nil
}

// Marshal сериализует envelope в JSON для публикации.
// Порядок полей фиксирован структурой, ключи map сортируются encoding/json —
// при равных входах и показаниях часов байты идентичны.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
