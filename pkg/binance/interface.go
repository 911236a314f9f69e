// pkg/binance/interface.go
package binance

import (
	"context"
	"time"

	"github.com/PetroSa2/petrosa-socket-client/internal/queue"
)

// Connector описывает контракт upstream-сессии для supervisor-а.
type Connector interface {
	// Connect устанавливает соединение и подписку, ждёт ack.
	Connect(ctx context.Context) error
	// Run читает кадры и кладёт их в out до ошибки чтения или отмены ctx.
	Run(ctx context.Context, out *queue.Queue) error
	// Close инициирует graceful close соединения.
	Close() error
	// Streams возвращает активный набор подписок (read-only).
	Streams() []string
	// LastMessageAt / LastPingAt — моменты последнего кадра и последнего ping-а.
	LastMessageAt() time.Time
	LastPingAt() time.Time
	// FramesRead / ParseSkipped — счётчики чтения и неклассифицированных кадров.
	FramesRead() uint64
	ParseSkipped() uint64
}
