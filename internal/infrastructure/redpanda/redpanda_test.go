package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drfirst/go-rxinsight/pkg/cachekey"
)

func TestSourceChangedPrefixes(t *testing.T) {
	tests := []struct {
		source string
		want   []string
	}{
		{SourceFacts, []string{cachekey.NamespaceQuery}},
		{SourceFiles, []string{cachekey.NamespaceFiles, cachekey.NamespaceVolume}},
		{SourceLookup, []string{cachekey.Prefix}},
		{SourceAll, []string{cachekey.Prefix}},
	}
	for _, tt := range tests {
		got, err := NewSourceChangedEvent(tt.source, "test").Prefixes()
		if err != nil {
			t.Errorf("%s: %v", tt.source, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("%s: prefixes = %v, want %v", tt.source, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: prefixes = %v, want %v", tt.source, got, tt.want)
			}
		}
	}

	if _, err := NewSourceChangedEvent("warehouse", "").Prefixes(); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestDecodeSourceChanged(t *testing.T) {
	ev := NewSourceChangedEvent(SourceFacts, "nightly reload")
	b, _ := json.Marshal(ev)

	got, err := DecodeSourceChanged(b)
	if err != nil {
		t.Fatalf("DecodeSourceChanged: %v", err)
	}
	if got.ID != ev.ID || got.Source != SourceFacts || got.Reason != "nightly reload" {
		t.Errorf("unexpected event %+v", got)
	}

	if _, err := DecodeSourceChanged([]byte(`{"id":"1","reason":"x"}`)); err == nil {
		t.Error("expected error for missing source")
	}
	if _, err := DecodeSourceChanged([]byte(`{"source":"facts"}`)); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := DecodeSourceChanged([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestHeaderCarrierRoundTrip(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	prop := propagation.TraceContext{}
	record := &kgo.Record{Topic: TopicMetricsComputed}
	prop.Inject(ctx, headerCarrier{record})

	if got := (headerCarrier{record}).Get("traceparent"); got == "" {
		t.Fatal("traceparent header not written")
	}

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), headerCarrier{record}))
	if extracted.TraceID() != traceID || extracted.SpanID() != spanID {
		t.Errorf("extracted span context %v, want trace %s span %s", extracted, traceID, spanID)
	}

	// Set replaces an existing header instead of duplicating it
	headerCarrier{record}.Set("traceparent", "x")
	if n := len(headerCarrier{record}.Keys()); n != 1 {
		t.Errorf("expected 1 header, got %d", n)
	}
}

type fakeLag struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeLag) ConsumerLag(_ context.Context, group string) (map[string]map[int32]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("coordinator not available")
	}
	return map[string]map[int32]int64{TopicSourceChanged: {0: int64(f.calls)}}, nil
}

func TestWatchLag(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeLag{}
	var seen []int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		WatchLag(ctx, src, "rx-cache-invalidator", time.Millisecond, func(lag map[string]map[int32]int64) {
			seen = append(seen, lag[TopicSourceChanged][0])
			if len(seen) == 2 {
				cancel()
			}
		}, nil)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WatchLag did not stop after cancel")
	}
	// the failed first poll is skipped
	if len(seen) != 2 || seen[0] != 2 || seen[1] != 3 {
		t.Errorf("observed lags %v, want [2 3]", seen)
	}
}

func TestHealthCheckUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := HealthCheck(ctx, []string{"127.0.0.1:1"}); err == nil {
		t.Error("expected error for unreachable broker")
	}
}
