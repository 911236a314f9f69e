// pkg/natsbus/publisher_test.go
package natsbus

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	return log
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(Config{}, testLogger(t)); err == nil {
		t.Error("expected error for missing URL")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	b, err := New(Config{URL: "nats://localhost:4222"}, testLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.cfg.ClientName != "petrosa-socket-client" {
		t.Errorf("ClientName default = %q", b.cfg.ClientName)
	}
	if b.cfg.FlushTimeout <= 0 || b.cfg.ReconnectWait <= 0 {
		t.Error("timeout defaults not applied")
	}
}

func TestPublish_DisconnectedWithoutConnect(t *testing.T) {
	b, _ := New(Config{URL: "nats://localhost:4222"}, testLogger(t))
	err := b.Publish(context.Background(), "subj", []byte("x"))
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
	if b.Connected() {
		t.Error("Connected must be false without Connect")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"closed", nats.ErrConnectionClosed, ErrDisconnected},
		{"draining", nats.ErrConnectionDraining, ErrDisconnected},
		{"reconnecting", nats.ErrConnectionReconnecting, ErrDisconnected},
		{"timeout", nats.ErrTimeout, ErrTimeout},
		{"other", errors.New("weird"), ErrOther},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classify(c.in)
			if !errors.Is(got, c.want) {
				t.Errorf("classify(%v) = %v; want %v", c.in, got, c.want)
			}
		})
	}
}

func TestClose_Idempotent(t *testing.T) {
	b, _ := New(Config{URL: "nats://localhost:4222"}, testLogger(t))
	if err := b.Close(); err != nil {
		t.Errorf("Close without connection: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
