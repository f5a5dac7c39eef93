package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxinsight/internal/csvio"
	"github.com/drfirst/go-rxinsight/internal/domain/volume"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/cache"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxinsight/internal/lookup"
	"github.com/drfirst/go-rxinsight/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeFacts struct {
	rows  map[volume.ProductKey][]volume.FactRow
	err   error
	calls int
}

func (f *fakeFacts) FetchFacts(_ context.Context, key volume.ProductKey, _ []string) ([]volume.FactRow, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[key], nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return b, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct {
	events []redpanda.MetricsComputedEvent
	err    error
}

func (p *recordingPublisher) PublishMetrics(_ context.Context, e redpanda.MetricsComputedEvent) error {
	p.events = append(p.events, e)
	return p.err
}

func testResolver() *lookup.Resolver {
	return lookup.NewResolver(map[lookup.Dimension]map[string]string{
		lookup.DimensionRegion:     {"5": "Centre"},
		lookup.DimensionSex:        {"1": "Male"},
		lookup.DimensionAge:        {"20": "20-39"},
		lookup.DimensionPrescriber: {"A": "General practice", "B": "Cardiology"},
		lookup.DimensionProduct:    {"X": "DRUG X 10MG"},
	})
}

func testFacts() *fakeFacts {
	return &fakeFacts{rows: map[volume.ProductKey][]volume.FactRow{
		volume.KeyBrand: {
			{Region: "5", Sex: "1", Age: "20", Product: "X", Prescriber: "A", Boxes: 60},
			{Region: "5", Sex: "1", Age: "20", Product: "X", Prescriber: "B", Boxes: 40},
		},
		volume.KeyGeneric: {
			{Region: "5", Sex: "1", Age: "20", Product: "Y", Prescriber: "A", Boxes: 50},
		},
	}}
}

func TestExecuteQuery(t *testing.T) {
	facts := testFacts()
	pub := &recordingPublisher{}
	a := NewAnalyzer(Config{}, testResolver(), nil, WithFacts(facts), WithPublisher(pub))

	b, err := a.ExecuteQuery(context.Background(), []string{"X"}, []string{"Y"})
	require.NoError(t, err)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &payload))
	assert.Contains(t, payload, "unified_df")
	assert.Contains(t, payload, "unified_df_gen")
	assert.Contains(t, payload, "metrics")

	var brandRows []map[string]any
	require.NoError(t, json.Unmarshal(payload["unified_df"], &brandRows))
	require.Len(t, brandRows, 1)
	assert.Equal(t, "Centre", brandRows[0]["Region"])
	assert.Equal(t, "DRUG X 10MG", brandRows[0]["Medication"])
	assert.EqualValues(t, 100, brandRows[0]["total_boites"])
	assert.EqualValues(t, 60, brandRows[0]["General practice"])

	var m struct {
		Segments []map[string]any `json:"segment_comparison"`
		Regions  []map[string]any `json:"region_summary"`
	}
	require.NoError(t, json.Unmarshal(payload["metrics"], &m))
	require.Len(t, m.Segments, 1)
	assert.EqualValues(t, 150, m.Segments[0]["combined_total"])
	require.Len(t, m.Regions, 1)
	assert.Equal(t, "Centre", m.Regions[0]["Region"])

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, OriginQuery, ev.Origin)
	assert.EqualValues(t, 100, ev.BrandTotal)
	assert.EqualValues(t, 50, ev.GenericTotal)
	assert.InDelta(t, 0.6667, ev.BrandShare, 1e-4)
	assert.NotEmpty(t, ev.ID)
}

func TestExecuteQueryUsesCache(t *testing.T) {
	facts := testFacts()
	c := newMemCache()
	m := metrics.New(nil)
	a := NewAnalyzer(Config{}, testResolver(), nil, WithFacts(facts), WithCache(c), WithMetrics(m))

	first, err := a.ExecuteQuery(context.Background(), []string{"X"}, []string{"Y"})
	require.NoError(t, err)
	// same codes in another order hit the same entry
	second, err := a.ExecuteQuery(context.Background(), []string{" X", "X"}, []string{"Y"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, facts.calls, "second request should be served from cache")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(metrics.CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues(metrics.CacheMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues(OriginQuery, "success")))
}

func TestExecuteQueryErrors(t *testing.T) {
	a := NewAnalyzer(Config{}, testResolver(), nil, WithFacts(testFacts()))
	_, err := a.ExecuteQuery(context.Background(), nil, []string{"Y"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	down := &fakeFacts{err: errors.New("connection refused")}
	c := newMemCache()
	a = NewAnalyzer(Config{}, testResolver(), nil, WithFacts(down), WithCache(c))
	_, err = a.ExecuteQuery(context.Background(), []string{"X"}, []string{"Y"})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, c.data, "failures must not be cached")

	a = NewAnalyzer(Config{}, testResolver(), nil)
	_, err = a.ExecuteQuery(context.Background(), []string{"X"}, []string{"Y"})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	a := NewAnalyzer(Config{}, testResolver(), nil, WithFacts(testFacts()), WithPublisher(pub))
	_, err := a.ExecuteQuery(context.Background(), []string{"X"}, []string{"Y"})
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

func writeExtracts(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	brand := "BEN_REG,sexe,age,CIP13,total_boites,A,B\n5,1,20,X,100,60,40\n"
	generic := "BEN_REG,sexe,age,GEN_NUM,total_boites,A\n5,1,20,Y,50,50\n"
	cfg := Config{
		BrandFile:   filepath.Join(dir, "brand.csv"),
		GenericFile: filepath.Join(dir, "generic.csv"),
		CSV:         csvio.Options{},
	}
	require.NoError(t, os.WriteFile(cfg.BrandFile, []byte(brand), 0o644))
	require.NoError(t, os.WriteFile(cfg.GenericFile, []byte(generic), 0o644))
	return cfg
}

func TestCompareFilesMatchesQueryPath(t *testing.T) {
	cfg := writeExtracts(t)
	a := NewAnalyzer(cfg, testResolver(), nil, WithFacts(testFacts()), WithCache(newMemCache()))

	fromFiles, err := a.CompareFiles(context.Background())
	require.NoError(t, err)

	res, err := a.Compute(context.Background(), []string{"X"}, []string{"Y"})
	require.NoError(t, err)
	fromQuery, err := json.Marshal(res.Metrics)
	require.NoError(t, err)

	assert.JSONEq(t, string(fromQuery), string(fromFiles))
}

func TestCompareFilesMissingExtract(t *testing.T) {
	a := NewAnalyzer(Config{BrandFile: "/nonexistent/brand.csv", GenericFile: "/nonexistent/generic.csv"}, nil, nil)
	_, err := a.CompareFiles(context.Background())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSummary(t *testing.T) {
	cfg := writeExtracts(t)
	a := NewAnalyzer(cfg, testResolver(), nil)

	b, err := a.Summary(context.Background(), volume.KeyBrand, volume.Filter{})
	require.NoError(t, err)
	var s volume.Summary
	require.NoError(t, json.Unmarshal(b, &s))
	assert.EqualValues(t, 100, s.TotalBoxes)
	assert.Equal(t, 1, s.Rows)

	b, err = a.Summary(context.Background(), volume.KeyGeneric, volume.Filter{Region: []string{"Nowhere"}})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &s))
	assert.EqualValues(t, 0, s.TotalBoxes)
}

func TestResultFromFiles(t *testing.T) {
	cfg := writeExtracts(t)
	res, err := ResultFromFiles(cfg.BrandFile, cfg.GenericFile, cfg.CSV, testResolver())
	require.NoError(t, err)
	assert.Equal(t, "Medication", res.Brand.Display)
	assert.Equal(t, "Generic", res.Generic.Display)
	brand, generic := res.Metrics.Totals()
	assert.EqualValues(t, 100, brand)
	assert.EqualValues(t, 50, generic)
}
