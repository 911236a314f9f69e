// pkg/binance/config.go
package binance

import (
	"fmt"
	"strings"
	"time"
)

// Config задаёт параметры подключения к Binance WebSocket.
type Config struct {
	URL              string        // адрес WebSocket, например "wss://stream.binance.com:9443"
	Streams          []string      // стримы, напр. ["btcusdt@trade","btcusdt@depth20@100ms"]
	ReadTimeout      time.Duration // ReadDeadline, например 90s
	SubscribeTimeout time.Duration // ожидание ack на SUBSCRIBE, например 5s
	PingInterval     time.Duration // период ping-кадров, например 30s
	CloseTimeout     time.Duration // ожидание close handshake
}

// applyDefaults заполняет default-значения.
func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 10 * time.Second
	}
	c.Streams = dedupeStreams(c.Streams)
}

// validate проверяет обязательные поля.
func (c *Config) validate() error {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "URL is required")
	}
	if len(c.Streams) == 0 {
		errs = append(errs, "at least one stream is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid Config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// dedupeStreams схлопывает дубликаты, сохраняя исходный порядок.
func dedupeStreams(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
