// internal/envelope/envelope_test.go
package envelope

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// fakeClock отдаёт заранее заданную последовательность моментов.
type fakeClock struct {
	times []time.Time
	i     int
}

func (f *fakeClock) Now() time.Time {
	t := f.times[f.i]
	if f.i < len(f.times)-1 {
		f.i++
	}
	return t
}

type staticInjector struct{ kv map[string]string }

func (s staticInjector) Inject(ctx context.Context) map[string]string { return s.kv }

func TestBuild_RequiredFields(t *testing.T) {
	b := NewBuilder(nil, nil)
	if _, err := b.Build(context.Background(), "", map[string]any{"e": "trade"}); err == nil {
		t.Error("expected error for empty stream")
	}
	if _, err := b.Build(context.Background(), "btcusdt@trade", nil); err == nil {
		t.Error("expected error for nil data")
	}
}

func TestBuild_FieldSet(t *testing.T) {
	clock := &fakeClock{times: []time.Time{time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)}}
	b := NewBuilder(clock, nil)

	env, err := b.Build(context.Background(), "btcusdt@trade", map[string]any{"e": "trade", "s": "BTCUSDT"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if env.Stream != "btcusdt@trade" {
		t.Errorf("stream = %q", env.Stream)
	}
	if env.Source != "binance-websocket" {
		t.Errorf("source = %q", env.Source)
	}
	if env.Version != "1.0" {
		t.Errorf("version = %q", env.Version)
	}
	if env.MessageID == "" {
		t.Error("message_id must be non-empty")
	}
	if env.Timestamp != "2023-11-14T22:13:20.000Z" {
		t.Errorf("timestamp = %q; want ISO-8601 ms with Z", env.Timestamp)
	}
}

func TestBuild_FreshMessageIDs(t *testing.T) {
	b := NewBuilder(nil, nil)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env, err := b.Build(context.Background(), "s@trade", map[string]any{"i": i})
		if err != nil {
			t.Fatal(err)
		}
		if seen[env.MessageID] {
			t.Fatalf("duplicate message_id %q", env.MessageID)
		}
		seen[env.MessageID] = true
	}
}

func TestBuild_MonotonicTimestamps(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	// часы идут назад на втором вызове
	clock := &fakeClock{times: []time.Time{base, base.Add(-2 * time.Second), base.Add(time.Second)}}
	b := NewBuilder(clock, nil)

	first, _ := b.Build(context.Background(), "s@trade", map[string]any{})
	second, _ := b.Build(context.Background(), "s@trade", map[string]any{})
	third, _ := b.Build(context.Background(), "s@trade", map[string]any{})

	if second.Timestamp < first.Timestamp {
		t.Errorf("timestamp regressed: %s < %s", second.Timestamp, first.Timestamp)
	}
	if third.Timestamp < second.Timestamp {
		t.Errorf("timestamp regressed: %s < %s", third.Timestamp, second.Timestamp)
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	ts := time.Date(2024, 5, 5, 5, 5, 5, 500*int(time.Millisecond), time.UTC)
	data := map[string]any{"e": "trade", "s": "BTCUSDT", "p": "50000.00", "b": []any{"1", "2"}}

	mk := func() []byte {
		env := &Envelope{
			Stream:    "btcusdt@trade",
			Data:      data,
			Timestamp: ts.Format("2006-01-02T15:04:05.000Z"),
			MessageID: "fixed-id",
			Source:    Source,
			Version:   Version,
		}
		bs, err := env.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return bs
	}

	a, b := mk(), mk()
	if string(a) != string(b) {
		t.Errorf("serialization not deterministic:\n%s\n%s", a, b)
	}
}

func TestMarshal_TraceContextOmittedWhenAbsent(t *testing.T) {
	b := NewBuilder(nil, nil)
	env, _ := b.Build(context.Background(), "s@trade", map[string]any{"e": "trade"})
	bs, _ := env.Marshal()
	if strings.Contains(string(bs), "trace_context") {
		t.Errorf("trace_context must be omitted without injector: %s", bs)
	}
}

func TestMarshal_TraceContextPresentWithInjector(t *testing.T) {
	b := NewBuilder(nil, staticInjector{kv: map[string]string{"traceparent": "00-abc-def-01"}})
	env, _ := b.Build(context.Background(), "s@trade", map[string]any{"e": "trade"})
	bs, _ := env.Marshal()

	var decoded map[string]any
	if err := json.Unmarshal(bs, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	tc, ok := decoded["trace_context"].(map[string]any)
	if !ok {
		t.Fatalf("trace_context missing: %s", bs)
	}
	if tc["traceparent"] != "00-abc-def-01" {
		t.Errorf("traceparent = %v", tc["traceparent"])
	}
}

func TestMarshal_DataPassthrough(t *testing.T) {
	raw := `{"e":"trade","E":1700000000000,"s":"BTCUSDT","t":42,"p":"50000.00","q":"0.001","m":true}`
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(nil, nil)
	env, _ := b.Build(context.Background(), "btcusdt@trade", data)
	bs, _ := env.Marshal()

	var decoded struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(bs, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Data["s"] != "BTCUSDT" || decoded.Data["p"] != "50000.00" || decoded.Data["m"] != true {
		t.Errorf("data not passed through verbatim: %v", decoded.Data)
	}
}
