package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveComputation(t *testing.T) {
	m := New(nil)
	m.ObserveComputation("query", time.Now(), nil)
	m.ObserveComputation("query", time.Now(), errors.New("boom"))
	m.ObserveComputation("files", time.Now(), nil)

	if got := testutil.ToFloat64(m.Computations.WithLabelValues("query", "error")); got != 1 {
		t.Errorf("query errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Computations.WithLabelValues("files", "success")); got != 1 {
		t.Errorf("files successes = %v, want 1", got)
	}
}

func TestSetBreakerState(t *testing.T) {
	m := New(nil)
	m.SetBreakerState("facts", "open")
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("facts")); got != 1 {
		t.Errorf("state = %v, want 1", got)
	}
	m.SetBreakerState("facts", "closed")
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("facts")); got != 0 {
		t.Errorf("state = %v, want 0", got)
	}
}

func TestSetConsumerLag(t *testing.T) {
	m := New(nil)
	m.SetConsumerLag("rx-cache-invalidator", map[string]map[int32]int64{
		"rx.source.changed": {0: 4, 1: 0},
	})
	if got := testutil.ToFloat64(m.ConsumerLag.WithLabelValues("rx-cache-invalidator", "rx.source.changed", "0")); got != 4 {
		t.Errorf("lag = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.ConsumerLag.WithLabelValues("rx-cache-invalidator", "rx.source.changed", "1")); got != 0 {
		t.Errorf("lag = %v, want 0", got)
	}
}

func TestHandlerServesOwnRegistry(t *testing.T) {
	// separate registries must not collide
	a, b := New(nil), New(nil)
	a.ObserveHTTP("GET", "/api/v1/execute-query", 200, time.Millisecond)
	b.CacheLookups.WithLabelValues(CacheHit).Inc()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `http_requests_total{method="GET",route="/api/v1/execute-query",status="200"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
	if strings.Contains(body, `rx_cache_lookups_total{result="hit"}`) {
		t.Error("metrics from another registry leaked")
	}
}
