package redpanda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topics used by the analytics services
const (
	// TopicMetricsComputed announces every freshly computed comparison
	TopicMetricsComputed = "rx.metrics.computed"
	// TopicSourceChanged carries invalidation requests when extracts or facts are reloaded
	TopicSourceChanged = "rx.source.changed"
)

// TopicConfig holds configuration for a Kafka topic
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topic layout
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	return []TopicConfig{
		{
			Name:              TopicMetricsComputed,
			Partitions:        3,
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":     ptr("604800000"), // 7 days
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("zstd"),
			},
		},
		{
			Name:              TopicSourceChanged,
			Partitions:        1, // invalidations are applied in order
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":   ptr("86400000"),
				"cleanup.policy": ptr("delete"),
			},
		},
	}
}

// Admin creates and inspects topics
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates a new admin client
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(kgoClient), logger: logger}, nil
}

// EnsureTopics creates any missing topic; existing topics are left untouched
func (a *Admin) EnsureTopics(ctx context.Context) error {
	for _, cfg := range DefaultTopicConfigs() {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			switch {
			case errors.Is(r.Err, kerr.TopicAlreadyExists):
				a.logger.Debug("topic already exists", zap.String("topic", r.Topic))
			case r.Err != nil:
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			default:
				a.logger.Info("topic created", zap.String("topic", r.Topic), zap.Int32("partitions", cfg.Partitions))
			}
		}
	}
	return nil
}

// ConsumerLag returns the per-partition lag of a consumer group
func (a *Admin) ConsumerLag(ctx context.Context, groupID string) (map[string]map[int32]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("consumer group lag: %w", err)
	}

	result := make(map[string]map[int32]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			if result[topic] == nil {
				result[topic] = make(map[int32]int64)
			}
			for partition, lag := range partitions {
				result[topic][partition] = lag.Lag
			}
		}
	})
	return result, nil
}

// LagSource reports consumer group lag; *Admin implements it
type LagSource interface {
	ConsumerLag(ctx context.Context, groupID string) (map[string]map[int32]int64, error)
}

// WatchLag polls the lag of groupID every interval and passes it to observe
// until ctx is done. Failed polls are logged and skipped.
func WatchLag(ctx context.Context, src LagSource, groupID string, interval time.Duration,
	observe func(map[string]map[int32]int64), logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		lag, err := src.ConsumerLag(ctx, groupID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("consumer lag unavailable", zap.String("group", groupID), zap.Error(err))
		} else {
			observe(lag)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close closes the admin client
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
