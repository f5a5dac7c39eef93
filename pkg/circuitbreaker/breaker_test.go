package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoPassesResults(t *testing.T) {
	cb, err := New(DefaultConfig("facts"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := Do(context.Background(), cb, func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})
	if err != nil || len(got) != 2 {
		t.Fatalf("Do = %v, %v", got, err)
	}

	boom := errors.New("boom")
	if _, err := Do(context.Background(), cb, func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("expected wrapped call error, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("facts")
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Minute
	cb, _ := New(cfg, nil)

	fail := func(context.Context) (int, error) { return 0, errors.New("connection refused") }
	for i := 0; i < 2; i++ {
		_, _ = Do(context.Background(), cb, fail)
	}

	if cb.State() != StateOpen || cb.Healthy() {
		t.Fatalf("state = %s, want open", cb.State())
	}

	called := false
	_, err := Do(context.Background(), cb, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("open breaker must not run the call")
	}
}

func TestCanceledCallsDoNotTrip(t *testing.T) {
	cfg := DefaultConfig("facts")
	cfg.ConsecutiveFailures = 1
	cb, _ := New(cfg, nil)

	for i := 0; i < 3; i++ {
		_, _ = Do(context.Background(), cb, func(context.Context) (int, error) { return 0, context.Canceled })
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestOnStateChange(t *testing.T) {
	var transitions []State
	cfg := DefaultConfig("facts")
	cfg.ConsecutiveFailures = 1
	cfg.OnStateChange = func(name string, _, to State) {
		if name != "facts" {
			t.Errorf("name = %q", name)
		}
		transitions = append(transitions, to)
	}
	cb, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	Do(context.Background(), cb, func(context.Context) (int, error) {
		return 0, errors.New("down")
	})
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("transitions = %v, want [open]", transitions)
	}
}
