// pkg/binance/ws.go
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PetroSa2/petrosa-socket-client/internal/metrics"
	"github.com/PetroSa2/petrosa-socket-client/internal/queue"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

// subscribeRequest — кадр подписки combined-режима.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// subscribeAck — ответ сервера на SUBSCRIBE.
type subscribeAck struct {
	Result json.RawMessage `json:"result"`
	ID     uint64          `json:"id"`
}

// Session владеет единственным upstream-соединением: dial, подписка,
// чтение кадров, keepalive-пинги. Один producer — порядок чтения сохраняется.
type Session struct {
	cfg Config
	log *logger.Logger

	mu      sync.Mutex // защищает conn между Connect/Close
	conn    *websocket.Conn
	writeMu sync.Mutex // сериализует записи: ping-таск и close-кадр

	subscribeID   atomic.Uint64
	lastMessageNS atomic.Int64
	lastPingNS    atomic.Int64
	framesRead    atomic.Uint64
	parseSkipped  atomic.Uint64

	// кадры, пришедшие до ack подписки; отдаются первым вызовом Run
	pending [][]byte
}

var _ Connector = (*Session)(nil)

// NewSession создаёт Session. Дубликаты стримов схлопываются.
func NewSession(cfg Config, log *logger.Logger) (*Session, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg: cfg,
		log: log.Named("binance-ws"),
	}, nil
}

// Streams возвращает копию активного набора подписок.
func (s *Session) Streams() []string {
	out := make([]string, len(s.cfg.Streams))
	copy(out, s.cfg.Streams)
	return out
}

// Connect устанавливает соединение, отправляет SUBSCRIBE с новым корреляционным id
// и ждёт подтверждение {"result":null,"id":N} в пределах SubscribeTimeout.
func (s *Session) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.SubscribeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("ws dial %s: %w", s.cfg.URL, err)
	}

	id := s.subscribeID.Add(1)
	req := subscribeRequest{Method: "SUBSCRIBE", Params: s.cfg.Streams, ID: id}

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.SubscribeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("ws subscribe: %w", err)
	}

	// Ждём ack; кадры данных, пришедшие раньше, сохраняем для Run.
	deadline := time.Now().Add(s.cfg.SubscribeTimeout)
	var pending [][]byte
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return fmt.Errorf("ws subscribe ack: %w", err)
		}
		var ack subscribeAck
		if uErr := json.Unmarshal(data, &ack); uErr == nil && ack.ID == id {
			if len(ack.Result) > 0 && string(ack.Result) != "null" {
				conn.Close()
				return fmt.Errorf("ws subscribe rejected: %s", ack.Result)
			}
			break
		}
		pending = append(pending, data)
	}

	s.mu.Lock()
	s.conn = conn
	s.pending = pending
	s.mu.Unlock()

	s.log.Sugar().Infow("ws: connected and subscribed",
		"url", s.cfg.URL, "streams", s.cfg.Streams, "subscribe_id", id)
	return nil
}

// Run читает кадры и кладёт их в out до ошибки чтения, провала ping-а
// или отмены ctx. Возвращаемая причина интерпретируется supervisor-ом.
func (s *Session) Run(ctx context.Context, out *queue.Queue) error {
	s.mu.Lock()
	conn := s.conn
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ws run: not connected")
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	// ping-таск: провал ping-а закрывает соединение и тем самым завершает reader
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	pingFailed := make(chan error, 1)
	go s.pingLoop(pingCtx, conn, pingFailed)

	// отмена ctx также закрывает соединение, чтобы разблокировать ReadMessage
	go func() {
		<-pingCtx.Done()
		_ = conn.Close()
	}()

	for _, data := range pending {
		s.handleFrame(data, out)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case pErr := <-pingFailed:
				return fmt.Errorf("ws ping failed: %w", pErr)
			default:
			}
			return fmt.Errorf("ws read: %w", err)
		}
		s.lastMessageNS.Store(time.Now().UnixNano())
		s.handleFrame(data, out)
	}
}

// handleFrame парсит кадр, выводит имя стрима и кладёт результат в очередь.
func (s *Session) handleFrame(data []byte, out *queue.Queue) {
	s.framesRead.Add(1)
	metrics.EventsTotal.Inc()

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		s.parseSkipped.Add(1)
		metrics.ParseSkipped.Inc()
		s.log.Sugar().Warnw("ws: malformed frame, skipping", "error", err)
		return
	}

	stream, payload, ok := DeriveStream(parsed, s.cfg.Streams)
	if !ok {
		s.parseSkipped.Add(1)
		metrics.ParseSkipped.Inc()
		s.log.Sugar().Debugw("ws: unclassified frame, skipping")
		return
	}

	out.Enqueue(queue.Item{Stream: stream, Data: payload})
}

// pingLoop шлёт ping каждые PingInterval под write-мьютексом,
// чтобы кадры не перемежались с close-кадром.
func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn, failed chan<- error) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Sugar().Warnw("ws: ping failed", "error", err)
				failed <- err
				_ = conn.Close()
				return
			}
			s.lastPingNS.Store(time.Now().UnixNano())
		}
	}
}

// Close шлёт close-кадр с нормальным статусом и закрывает соединение.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.cfg.CloseTimeout),
	)
	s.writeMu.Unlock()
	return conn.Close()
}

// LastMessageAt возвращает момент последнего прочитанного кадра.
func (s *Session) LastMessageAt() time.Time {
	return nsToTime(s.lastMessageNS.Load())
}

// LastPingAt возвращает момент последнего успешного ping-а.
func (s *Session) LastPingAt() time.Time {
	return nsToTime(s.lastPingNS.Load())
}

// FramesRead возвращает число прочитанных кадров.
func (s *Session) FramesRead() uint64 { return s.framesRead.Load() }

// ParseSkipped возвращает число кадров без выводимого имени стрима.
func (s *Session) ParseSkipped() uint64 { return s.parseSkipped.Load() }

func nsToTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
