// internal/bridge/snapshot.go
package bridge

import (
	"time"

	"github.com/PetroSa2/petrosa-socket-client/pkg/breaker"
)

// Snapshot — read-only срез операционных метрик bridge-а.
// Поля читаются по одному атомарно; строгая согласованность между
// полями не гарантируется и не требуется.
type Snapshot struct {
	ProcessedTotal    uint64  `json:"processed_total"`
	DroppedTotal      uint64  `json:"dropped_total"`
	ParseSkipped      uint64  `json:"parse_skipped"`
	FramesRead        uint64  `json:"frames_read"`
	QueueSize         int     `json:"queue_size"`
	QueueCapacity     int     `json:"queue_capacity"`
	QueueUtilization  float64 `json:"queue_utilization_percent"`
	ReconnectAttempts uint64  `json:"reconnect_attempts"`

	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	LastPingAt    time.Time `json:"last_ping_at,omitempty"`
	UptimeSeconds float64   `json:"uptime_seconds"`

	UpstreamState string   `json:"upstream_state"`
	BusState      string   `json:"bus_state"`
	Streams       []string `json:"streams"`

	CircuitStates []breaker.Snapshot `json:"circuit_states"`
}

// Metrics — read-интерфейс для внешних потребителей (HTTP surface, heartbeat).
type Metrics interface {
	Snapshot() Snapshot
	Ready() bool
	Healthy() bool
}
