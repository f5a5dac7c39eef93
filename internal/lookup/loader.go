package lookup

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/drfirst/go-rxinsight/internal/csvio"
)

// Lookup table columns
const (
	ColumnKey   = "Key"
	ColumnValue = "Value"
)

// ErrMalformedTable is returned when a lookup table lacks the Key or Value column
var ErrMalformedTable = errors.New("malformed lookup table")

// Config locates the lookup tables on disk
type Config struct {
	// Dir holds the lookup files
	Dir string
	// Files maps each dimension to a file name relative to Dir
	Files map[Dimension]string
	// Encoding is passed to csvio (utf-8 or latin1)
	Encoding string
}

// DefaultConfig returns the file layout used by the prescription extracts
func DefaultConfig(dir string) Config {
	return Config{
		Dir: dir,
		Files: map[Dimension]string{
			DimensionRegion:     "ben_reg.csv",
			DimensionSex:        "sex.csv",
			DimensionAge:        "age.csv",
			DimensionPrescriber: "prescribers.csv",
			DimensionProduct:    "cpi.csv",
		},
		Encoding: csvio.EncodingUTF8,
	}
}

// Load reads every configured lookup file. Any unreadable or malformed file is fatal.
func Load(cfg Config) (*Resolver, error) {
	maps := make(map[Dimension]map[string]string, len(cfg.Files))
	for _, dim := range Dimensions {
		name, ok := cfg.Files[dim]
		if !ok {
			continue
		}
		path := filepath.Join(cfg.Dir, name)
		tbl, err := csvio.ReadFile(path, csvio.Options{Encoding: cfg.Encoding})
		if err != nil {
			return nil, fmt.Errorf("load %s lookup: %w", dim, err)
		}
		m, err := fromTable(tbl)
		if err != nil {
			return nil, fmt.Errorf("load %s lookup %s: %w", dim, path, err)
		}
		maps[dim] = m
	}
	return NewResolver(maps), nil
}

// ReadTable parses one Key/Value lookup table. Later duplicates overwrite earlier ones.
func ReadTable(r io.Reader) (map[string]string, error) {
	tbl, err := csvio.ReadAll(r, csvio.Options{})
	if err != nil {
		return nil, err
	}
	return fromTable(tbl)
}

func fromTable(tbl *csvio.Table) (map[string]string, error) {
	keyIdx := tbl.Index(ColumnKey)
	valIdx := tbl.Index(ColumnValue)
	if keyIdx < 0 || valIdx < 0 {
		return nil, fmt.Errorf("%w: need %q and %q columns, have %v", ErrMalformedTable, ColumnKey, ColumnValue, tbl.Header)
	}

	m := make(map[string]string, len(tbl.Rows))
	for _, row := range tbl.Rows {
		key := csvio.Cell(row, keyIdx)
		if key == "" {
			continue
		}
		m[key] = csvio.Cell(row, valIdx)
	}
	return m, nil
}
