// Package idempotency guards event handlers against redelivery.
// Each event id is claimed in a shared store before the handler runs and
// marked finished afterwards, so several consumers never act on it twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state stored under an event key
type Status string

const (
	StatusStarted  Status = "STARTED"
	StatusFinished Status = "FINISHED"
)

var (
	// ErrDuplicateMessage indicates the event was already processed
	ErrDuplicateMessage = errors.New("duplicate message: already processed")
	// ErrMessageInProgress indicates another consumer holds the claim
	ErrMessageInProgress = errors.New("message in progress by another handler")
)

// Store keeps claims. A claim expires after ttl so a crashed handler does not
// block the event forever.
type Store interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Status(ctx context.Context, key string) (Status, error)
	Finish(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// InboxConfig holds configuration for the inbox
type InboxConfig struct {
	// Prefix namespaces keys in the store
	Prefix string
	// DefaultTTL is how long a finished event is remembered
	DefaultTTL time.Duration
	// RecoveryTimeout is when a STARTED claim is considered stale
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig returns sensible defaults
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		Prefix:          "rx:inbox:",
		DefaultTTL:      24 * time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// Inbox runs handlers at most once per key
type Inbox struct {
	store  Store
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// NewInbox creates a new inbox manager
func NewInbox(store Store, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{
		store:  store,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
	}
}

// Process runs fn unless key was already claimed. A failed handler releases
// its claim so redelivery can retry it.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, fn func(context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	k := i.config.Prefix + handlerName + ":" + key
	ok, err := i.store.Claim(ctx, k, i.config.RecoveryTimeout)
	if err != nil {
		return fmt.Errorf("failed to claim %s: %w", key, err)
	}
	if !ok {
		status, err := i.store.Status(ctx, k)
		if err != nil {
			return fmt.Errorf("failed to check inbox: %w", err)
		}
		span.SetAttributes(attribute.Bool("duplicate", true))
		if status == StatusFinished {
			return ErrDuplicateMessage
		}
		return ErrMessageInProgress
	}

	if err := fn(ctx); err != nil {
		if rerr := i.store.Release(ctx, k); rerr != nil {
			i.logger.Error("failed to release claim", zap.String("key", key), zap.Error(rerr))
		}
		span.RecordError(err)
		return err
	}

	if err := i.store.Finish(ctx, k, i.config.DefaultTTL); err != nil {
		// the handler succeeded; the claim simply expires
		i.logger.Error("failed to mark finished", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// RedisStore keeps claims in Redis
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps a go-redis client
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, string(StatusStarted), ttl).Result()
}

func (s *RedisStore) Status(ctx context.Context, key string) (Status, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between Claim and Status
		return StatusStarted, nil
	}
	return Status(v), err
}

func (s *RedisStore) Finish(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, key, string(StatusFinished), ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
