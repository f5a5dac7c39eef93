// Package redpanda publishes computed-metrics announcements and consumes
// source-change notifications over Kafka-compatible brokers with franz-go.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig holds configuration for the producer
type ProducerConfig struct {
	Brokers []string
	// LingerMS is the time to wait before sending a batch
	LingerMS int64
	// Compression is one of lz4, snappy, gzip, zstd or empty for none
	Compression string
	// RequiredAcks is -1 for all replicas, 1 for leader, 0 for none
	RequiredAcks int16
	MaxRetries   int
}

// DefaultProducerConfig returns defaults for low-volume event publishing
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		LingerMS:     10,
		Compression:  "zstd",
		RequiredAcks: -1,
		MaxRetries:   3,
	}
}

// Producer publishes JSON events
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	sent   atomic.Int64
	failed atomic.Int64
}

// NewProducer creates a producer. Brokers are contacted lazily.
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.RecordRetries(cfg.MaxRetries),
	}
	switch cfg.RequiredAcks {
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	switch cfg.Compression {
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
	}, nil
}

// Publish encodes v as JSON and waits for the broker acknowledgement
func (p *Producer) Publish(ctx context.Context, topic, key string, v any) error {
	ctx, span := p.tracer.Start(ctx, "redpanda.publish", trace.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("key", key),
	))
	defer span.End()

	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	injectTraceHeaders(ctx, record)

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.failed.Add(1)
		span.RecordError(err)
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	p.sent.Add(1)
	p.logger.Debug("event published",
		zap.String("topic", record.Topic),
		zap.Int32("partition", record.Partition),
		zap.Int64("offset", record.Offset))
	return nil
}

// PublishMetrics announces a computed comparison
func (p *Producer) PublishMetrics(ctx context.Context, e MetricsComputedEvent) error {
	return p.Publish(ctx, TopicMetricsComputed, e.CacheKey, e)
}

// PublishSourceChanged requests cache invalidation
func (p *Producer) PublishSourceChanged(ctx context.Context, e SourceChangedEvent) error {
	return p.Publish(ctx, TopicSourceChanged, e.Source, e)
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// ProducerStats holds producer counters
type ProducerStats struct {
	Sent   int64
	Failed int64
}

// Stats returns the producer counters
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{Sent: p.sent.Load(), Failed: p.failed.Load()}
}
