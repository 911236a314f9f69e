// pkg/telemetry/inject.go
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Injector добавляет W3C trace-контекст активного span-а в envelope.
// Без активного span-а возвращает пустую map — поле в envelope опускается.
type Injector struct{}

// NewInjector создаёт Injector. Использует глобальный TextMapPropagator,
// установленный InitTracer-ом.
func NewInjector() *Injector { return &Injector{} }

// Inject возвращает пары trace-контекста для текущего ctx.
func (Injector) Inject(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier
}
