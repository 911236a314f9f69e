// pkg/backoff/backoff_test.go
package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PetroSa2/petrosa-socket-client/pkg/backoff"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	cfg := backoff.Config{MaxElapsedTime: time.Second}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	called := 0
	err := backoff.Execute(context.Background(), cfg, log, func(ctx context.Context) error {
		called++
		return nil
	})
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if called != 1 {
		t.Errorf("expected 1 attempt, got %d", called)
	}
}

func TestExecute_EventualSuccess(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 10 * time.Millisecond, Multiplier: 1, MaxElapsedTime: 2 * time.Second}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	attemptsBeforeSuccess := 3
	called := 0
	err := backoff.Execute(context.Background(), cfg, log, func(ctx context.Context) error {
		called++
		if called < attemptsBeforeSuccess {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if called != attemptsBeforeSuccess {
		t.Errorf("expected %d attempts, got %d", attemptsBeforeSuccess, called)
	}
}

func TestExecute_MaxRetriesExceeded(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 10 * time.Millisecond, Multiplier: 1, MaxElapsedTime: 50 * time.Millisecond}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	called := 0
	err := backoff.Execute(context.Background(), cfg, log, func(ctx context.Context) error {
		called++
		return errors.New("always fail")
	})
	var maxErr *backoff.ErrMaxRetries
	if !errors.As(err, &maxErr) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if maxErr.Attempts != called {
		t.Errorf("attempts mismatch: ErrMaxRetries.Attempts=%d, actual=%d", maxErr.Attempts, called)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 50 * time.Millisecond, Multiplier: 1}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := backoff.Execute(ctx, cfg, log, func(ctx context.Context) error {
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected wrapped context.Canceled, got %v", err)
	}
}
