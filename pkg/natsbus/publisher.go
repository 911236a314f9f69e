// pkg/natsbus/publisher.go
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

// Классифицированные ошибки публикации.
var (
	ErrDisconnected = errors.New("natsbus: connection is down")
	ErrTimeout      = errors.New("natsbus: publish timed out")
	ErrOther        = errors.New("natsbus: publish failed")
)

// Config задаёт параметры подключения к NATS.
type Config struct {
	URL           string        // например "nats://localhost:4222"
	ClientName    string        // имя клиента в connection info
	FlushTimeout  time.Duration // ожидание flush при Close (default 5s)
	ReconnectWait time.Duration // пауза внутреннего reconnect (default 2s)
}

func (c *Config) applyDefaults() {
	if c.ClientName == "" {
		c.ClientName = "petrosa-socket-client"
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("natsbus: URL is required")
	}
	return nil
}

// Bus — владелец единственного NATS-соединения.
// Publish потокобезопасен; порядок сообщений одного worker-а сохраняется.
type Bus struct {
	cfg Config
	log *logger.Logger

	mu   sync.RWMutex
	conn *nats.Conn
}

var _ Publisher = (*Bus)(nil)

// New создаёт Bus без открытия соединения.
func New(cfg Config, log *logger.Logger) (*Bus, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Bus{cfg: cfg, log: log.Named("nats-pub")}, nil
}

// Connect открывает постоянное соединение и регистрирует reconnect-колбэки.
func (b *Bus) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(b.cfg.ClientName),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.log.Sugar().Warnw("nats: disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.log.Sugar().Infow("nats: reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.log.Sugar().Infow("nats: connection closed")
		}),
	}

	conn, err := nats.Connect(b.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", b.cfg.URL, err)
	}
	if err := ctx.Err(); err != nil {
		conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.log.Sugar().Infow("nats: connected", "url", b.cfg.URL, "client", b.cfg.ClientName)
	return nil
}

// Publish публикует одно сообщение. Не ретраит: политика повторов у вызывающего.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return ErrDisconnected
	}
	if !conn.IsConnected() {
		return ErrDisconnected
	}

	if err := conn.Publish(subject, data); err != nil {
		return classify(err)
	}
	return nil
}

// classify переводит ошибки nats.go в таксономию bridge-а.
func classify(err error) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionDraining),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	case errors.Is(err, nats.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrOther, err)
	}
}

// Connected сообщает, активно ли соединение.
func (b *Bus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && b.conn.IsConnected()
}

// Close сбрасывает буфер публикаций в пределах FlushTimeout и закрывает соединение.
func (b *Bus) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}

	var flushErr error
	if conn.IsConnected() {
		flushErr = conn.FlushTimeout(b.cfg.FlushTimeout)
	}
	conn.Close()
	if flushErr != nil {
		return fmt.Errorf("nats flush on close: %w", flushErr)
	}
	return nil
}
