package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
	if n, err := c.DeletePrefix(ctx, "rx:"); n != 0 || err != nil {
		t.Errorf("DeletePrefix = %d, %v", n, err)
	}
}

func TestRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisWithClient(client, time.Minute, nil)
	defer r.Close()

	ctx := context.Background()
	_, err := r.Get(ctx, "rx:query:x")
	if err == nil || errors.Is(err, ErrMiss) {
		t.Errorf("connection failure should not look like a miss: %v", err)
	}
	if err := r.Set(ctx, "rx:query:x", []byte("{}")); err == nil {
		t.Error("expected Set error")
	}
	if _, err := r.DeletePrefix(ctx, "rx:"); err == nil {
		t.Error("expected DeletePrefix error")
	}
}

func TestNewRedisFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := NewRedis(ctx, Config{Addr: "127.0.0.1:1"}, nil); err == nil {
		t.Error("expected connection error")
	}
}
