// Package postgres reads prescription fact rows for the analytics pipeline.
// Rows come back ungrouped; pivoting into the wide shape happens in the volume package.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxinsight/internal/domain/volume"
	"github.com/drfirst/go-rxinsight/pkg/circuitbreaker"
)

// ErrNoCodes is returned when a query is requested for an empty code list
var ErrNoCodes = errors.New("no product codes given")

// TableRef names the fact table
type TableRef struct {
	Schema string
	Table  string
}

// DefaultTable is the prescription fact table of the warehouse
func DefaultTable() TableRef {
	return TableRef{Schema: "dbo", Table: "MedicData"}
}

func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// BuildFactQuery selects the raw fact columns for the given product codes:
//
//	SELECT BEN_REG, sexe, age, <key>, PSP_SPE, BOITES FROM <table> WHERE <key> IN (...)
//
// Code columns are read as text and NULL boxes as 0. Codes are trimmed,
// de-duplicated and sorted so equal requests produce the same statement.
func BuildFactQuery(table TableRef, key volume.ProductKey, codes []string) (string, []interface{}, error) {
	if _, ok := volume.ParseProductKey(string(key)); !ok {
		return "", nil, fmt.Errorf("%w: %q", volume.ErrMissingProductKey, key)
	}
	if table.Table == "" {
		return "", nil, errors.New("fact table name is empty")
	}
	codes = normalizeCodes(codes)
	if len(codes) == 0 {
		return "", nil, ErrNoCodes
	}

	from := goqu.T(table.Table)
	if table.Schema != "" {
		from = goqu.S(table.Schema).Table(table.Table)
	}

	text := func(col string) interface{} {
		return goqu.COALESCE(goqu.Cast(goqu.C(col), "TEXT"), goqu.L("''")).As(col)
	}
	ds := goqu.Dialect("postgres").
		From(from).
		Select(
			text(volume.ColumnRegion),
			text(volume.ColumnSex),
			text(volume.ColumnAge),
			text(string(key)),
			text(volume.ColumnPrescriber),
			goqu.COALESCE(goqu.Cast(goqu.C(volume.ColumnBoxes), "DOUBLE PRECISION"), goqu.L("0")).As(volume.ColumnBoxes),
		).
		Where(goqu.Cast(goqu.C(string(key)), "TEXT").In(codes)).
		Prepared(true)

	sql, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build fact query: %w", err)
	}
	return sql, args, nil
}

func normalizeCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// FactRepository executes fact queries
type FactRepository struct {
	db      Querier
	table   TableRef
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewFactRepository creates a repository. breaker may be nil.
func NewFactRepository(db Querier, table TableRef, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *FactRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactRepository{
		db:      db,
		table:   table,
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("fact-repository"),
	}
}

// FetchFacts returns every fact row whose key column is in codes.
// Any query or scan failure is returned; no partial result is produced.
func (r *FactRepository) FetchFacts(ctx context.Context, key volume.ProductKey, codes []string) ([]volume.FactRow, error) {
	sql, args, err := BuildFactQuery(r.table, key, codes)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "postgres.fetch_facts", trace.WithAttributes(
		attribute.String("table", r.table.String()),
		attribute.String("key", string(key)),
		attribute.Int("codes", len(args)),
	))
	defer span.End()

	run := func(ctx context.Context) ([]volume.FactRow, error) {
		return r.query(ctx, sql, args)
	}
	var facts []volume.FactRow
	if r.breaker != nil {
		facts, err = circuitbreaker.Do(ctx, r.breaker, run)
	} else {
		facts, err = run(ctx)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetch %s facts: %w", key, err)
	}

	span.SetAttributes(attribute.Int("rows", len(facts)))
	r.logger.Debug("facts fetched",
		zap.String("key", string(key)),
		zap.Int("codes", len(args)),
		zap.Int("rows", len(facts)))
	return facts, nil
}

func (r *FactRepository) query(ctx context.Context, sql string, args []interface{}) ([]volume.FactRow, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []volume.FactRow
	for rows.Next() {
		var f volume.FactRow
		if err := rows.Scan(&f.Region, &f.Sex, &f.Age, &f.Product, &f.Prescriber, &f.Boxes); err != nil {
			return nil, fmt.Errorf("scan fact row: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
