// internal/bridge/lifecycle.go
package bridge

import (
	"context"
	"fmt"
)

// Lifecycle — контракт для внешних collaborator-ов (CLI, health-сервер).
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ Lifecycle = (*Bridge)(nil)

// Start запускает Run в фоновой горутине. Возвращает ошибку только при
// уже запущенном bridge-е или отменённом ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bridge start: %w", err)
	}
	if b.runDone != nil {
		return fmt.Errorf("bridge start: already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.runCancel = cancel
	b.runDone = make(chan error, 1)

	done := b.runDone
	go func() { done <- b.Run(runCtx) }()
	return nil
}

// Stop останавливает bridge и ждёт завершения Run (drain ограничен
// ShutdownTimeout внутри Run) либо дедлайна ctx.
func (b *Bridge) Stop(ctx context.Context) error {
	b.runMu.Lock()
	cancel, done := b.runCancel, b.runDone
	b.runCancel, b.runDone = nil, nil
	b.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("bridge stop: %w", ctx.Err())
	}
}
