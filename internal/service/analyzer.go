// Package service runs the prescription pipeline for the API and the CLI:
// fetch or load, pivot, normalize, compare, then cache and announce the result.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxinsight/internal/csvio"
	"github.com/drfirst/go-rxinsight/internal/domain/share"
	"github.com/drfirst/go-rxinsight/internal/domain/volume"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/cache"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxinsight/internal/lookup"
	"github.com/drfirst/go-rxinsight/internal/observability/metrics"
	"github.com/drfirst/go-rxinsight/pkg/cachekey"
)

var (
	// ErrInvalidInput marks requests that cannot be computed as given
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstream marks failures of the fact database
	ErrUpstream = errors.New("upstream query failed")
)

// Computation origins, used in metrics and events
const (
	OriginQuery = "query"
	OriginFiles = "files"
)

// FactSource returns raw fact rows for product codes
type FactSource interface {
	FetchFacts(ctx context.Context, key volume.ProductKey, codes []string) ([]volume.FactRow, error)
}

// Publisher announces computed results
type Publisher interface {
	PublishMetrics(ctx context.Context, e redpanda.MetricsComputedEvent) error
}

// Config locates the file-mode extracts
type Config struct {
	BrandFile   string
	GenericFile string
	CSV         csvio.Options
}

// QueryResult is the execute-query payload
type QueryResult struct {
	Brand   *volume.NormalizedTable `json:"unified_df"`
	Generic *volume.NormalizedTable `json:"unified_df_gen"`
	Metrics *share.Comparison       `json:"metrics"`
}

// Analyzer serves computed tables. Every dependency except the resolver is optional.
type Analyzer struct {
	cfg       Config
	resolver  *lookup.Resolver
	facts     FactSource
	cache     cache.Cache
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithFacts sets the fact database
func WithFacts(f FactSource) Option { return func(a *Analyzer) { a.facts = f } }

// WithCache sets the result cache
func WithCache(c cache.Cache) Option { return func(a *Analyzer) { a.cache = c } }

// WithPublisher sets the result announcer
func WithPublisher(p Publisher) Option { return func(a *Analyzer) { a.publisher = p } }

// WithMetrics sets the Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option { return func(a *Analyzer) { a.metrics = m } }

// NewAnalyzer creates an analyzer
func NewAnalyzer(cfg Config, resolver *lookup.Resolver, logger *zap.Logger, opts ...Option) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{
		cfg:      cfg,
		resolver: resolver,
		cache:    cache.Nop{},
		logger:   logger,
		tracer:   otel.Tracer("analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolver returns the lookup resolver
func (a *Analyzer) Resolver() *lookup.Resolver { return a.resolver }

// Compute fetches the facts of both code lists and runs the full pipeline
func (a *Analyzer) Compute(ctx context.Context, brandCodes, genericCodes []string) (*QueryResult, error) {
	if a.facts == nil {
		return nil, fmt.Errorf("%w: no fact database configured", ErrUpstream)
	}
	if len(brandCodes) == 0 || len(genericCodes) == 0 {
		return nil, fmt.Errorf("%w: both brand and generic code lists are required", ErrInvalidInput)
	}

	brandFacts, err := a.facts.FetchFacts(ctx, volume.KeyBrand, brandCodes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	genericFacts, err := a.facts.FetchFacts(ctx, volume.KeyGeneric, genericCodes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if a.metrics != nil {
		a.metrics.FactRowsFetched.Observe(float64(len(brandFacts) + len(genericFacts)))
	}

	brandWide := volume.Pivot(brandFacts, volume.KeyBrand)
	genericWide := volume.Pivot(genericFacts, volume.KeyGeneric)
	return build(brandWide, genericWide, a.resolver)
}

func build(brandWide, genericWide *volume.WideTable, r *lookup.Resolver) (*QueryResult, error) {
	brand, err := volume.Normalize(brandWide, r)
	if err != nil {
		return nil, fmt.Errorf("normalize brand: %w", err)
	}
	generic, err := volume.Normalize(genericWide, r)
	if err != nil {
		return nil, fmt.Errorf("normalize generic: %w", err)
	}
	cmp, err := share.Compare(brandWide, genericWide, r)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Brand: brand, Generic: generic, Metrics: cmp}, nil
}

// ExecuteQuery returns the encoded QueryResult for two code lists, served from
// cache when possible
func (a *Analyzer) ExecuteQuery(ctx context.Context, brandCodes, genericCodes []string) ([]byte, error) {
	ctx, span := a.tracer.Start(ctx, "analyzer.execute_query", trace.WithAttributes(
		attribute.Int("brand_codes", len(brandCodes)),
		attribute.Int("generic_codes", len(genericCodes)),
	))
	defer span.End()

	key := cachekey.ForQuery(brandCodes, genericCodes)
	if b, ok := a.cached(ctx, key); ok {
		return b, nil
	}

	start := time.Now()
	res, err := a.Compute(ctx, brandCodes, genericCodes)
	a.observe(OriginQuery, start, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	a.store(ctx, key, b)
	a.announce(ctx, OriginQuery, key, brandCodes, genericCodes, res.Metrics)
	return b, nil
}

// CompareFiles runs the comparison over the configured extracts
func (a *Analyzer) CompareFiles(ctx context.Context) ([]byte, error) {
	ctx, span := a.tracer.Start(ctx, "analyzer.compare_files")
	defer span.End()

	key, err := cachekey.ForFiles(cachekey.NamespaceFiles, a.cfg.BrandFile, a.cfg.GenericFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if b, ok := a.cached(ctx, key); ok {
		return b, nil
	}

	start := time.Now()
	cmp, err := CompareFiles(a.cfg.BrandFile, a.cfg.GenericFile, a.cfg.CSV, a.resolver)
	a.observe(OriginFiles, start, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	b, err := json.Marshal(cmp)
	if err != nil {
		return nil, fmt.Errorf("encode comparison: %w", err)
	}
	a.store(ctx, key, b)
	a.announce(ctx, OriginFiles, key, nil, nil, cmp)
	return b, nil
}

// Summary returns the encoded dashboard summary of one extract
func (a *Analyzer) Summary(ctx context.Context, key volume.ProductKey, f volume.Filter) ([]byte, error) {
	path := a.cfg.BrandFile
	if key == volume.KeyGeneric {
		path = a.cfg.GenericFile
	}

	base, err := cachekey.ForFiles(cachekey.NamespaceVolume, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	filterKey, _ := json.Marshal(f)
	ck := cachekey.With(base, string(key), string(filterKey))
	if b, ok := a.cached(ctx, ck); ok {
		return b, nil
	}

	start := time.Now()
	s, err := SummarizeFile(path, key, f, a.cfg.CSV, a.resolver)
	a.observe(OriginFiles, start, err)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	a.store(ctx, ck, b)
	return b, nil
}

func (a *Analyzer) cached(ctx context.Context, key string) ([]byte, bool) {
	b, err := a.cache.Get(ctx, key)
	switch {
	case err == nil:
		a.countLookup(metrics.CacheHit)
		return b, true
	case errors.Is(err, cache.ErrMiss):
		a.countLookup(metrics.CacheMiss)
	default:
		a.countLookup(metrics.CacheError)
		a.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	return nil, false
}

func (a *Analyzer) store(ctx context.Context, key string, b []byte) {
	if err := a.cache.Set(ctx, key, b); err != nil {
		a.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (a *Analyzer) announce(ctx context.Context, origin, key string, brandCodes, genericCodes []string, cmp *share.Comparison) {
	if a.publisher == nil {
		return
	}
	brand, generic := cmp.Totals()
	ev := redpanda.MetricsComputedEvent{
		ID:           uuid.NewString(),
		Origin:       origin,
		CacheKey:     key,
		BrandCodes:   brandCodes,
		GenericCodes: genericCodes,
		Segments:     len(cmp.Segments),
		BrandTotal:   brand,
		GenericTotal: generic,
		BrandShare:   share.Ratio(brand, brand+generic),
		ComputedAt:   time.Now().UTC(),
	}
	outcome := "success"
	if err := a.publisher.PublishMetrics(ctx, ev); err != nil {
		outcome = "error"
		a.logger.Warn("publish metrics event failed", zap.String("key", key), zap.Error(err))
	}
	if a.metrics != nil {
		a.metrics.EventsPublished.WithLabelValues(redpanda.TopicMetricsComputed, outcome).Inc()
	}
}

func (a *Analyzer) observe(origin string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.ObserveComputation(origin, start, err)
	}
}

func (a *Analyzer) countLookup(result string) {
	if a.metrics != nil {
		a.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
