// Package volume reshapes wide prescription extracts (one column per prescriber specialty)
// into labeled tables and computes the dashboard summaries over them.
package volume

import (
	"errors"
	"fmt"
	"io"

	"github.com/drfirst/go-rxinsight/internal/csvio"
)

// Raw extract columns
const (
	ColumnRegion     = "BEN_REG"
	ColumnSex        = "sexe"
	ColumnAge        = "age"
	ColumnTotal      = "total_boites"
	ColumnPrescriber = "PSP_SPE"
	ColumnBoxes      = "BOITES"
)

var (
	// ErrMissingProductKey means neither product key column could be found
	ErrMissingProductKey = errors.New("missing product key column")
	// ErrMissingColumn means a required segment or total column is absent
	ErrMissingColumn = errors.New("missing required column")
)

// ProductKey names the column identifying the product of each row
type ProductKey string

const (
	// KeyBrand is the branded product code
	KeyBrand ProductKey = "CIP13"
	// KeyGeneric is the generic group code
	KeyGeneric ProductKey = "GEN_NUM"
)

// ParseProductKey accepts a column name; ok is false for anything else
func ParseProductKey(s string) (ProductKey, bool) {
	switch ProductKey(s) {
	case KeyBrand, KeyGeneric:
		return ProductKey(s), true
	}
	return "", false
}

// Display is the consumer-facing name of the product column
func (k ProductKey) Display() string {
	if k == KeyGeneric {
		return "Generic"
	}
	return "Medication"
}

// fixed columns never treated as prescriber specialties
var keyColumns = map[string]bool{
	ColumnRegion:       true,
	ColumnSex:          true,
	ColumnAge:          true,
	string(KeyBrand):   true,
	string(KeyGeneric): true,
	ColumnTotal:        true,
}

// WideRecord is one region x sex x age x product row with raw codes
type WideRecord struct {
	Region     string
	Sex        string
	Age        string
	Product    string
	TotalBoxes int64
	// Prescribers maps specialty code to box count
	Prescribers map[string]int64
}

// WideTable is a parsed extract. PrescriberCodes keeps the source column order.
type WideTable struct {
	ProductKey      ProductKey
	PrescriberCodes []string
	Records         []WideRecord
}

// ReadWide parses a wide CSV extract. See FromRows for the column rules.
func ReadWide(r io.Reader, key ProductKey, opts csvio.Options) (*WideTable, error) {
	tbl, err := csvio.ReadAll(r, opts)
	if err != nil {
		return nil, err
	}
	return FromRows(tbl.Header, tbl.Rows, key)
}

// ReadWideFile is ReadWide over a file on disk
func ReadWideFile(path string, key ProductKey, opts csvio.Options) (*WideTable, error) {
	tbl, err := csvio.ReadFile(path, opts)
	if err != nil {
		return nil, err
	}
	t, err := FromRows(tbl.Header, tbl.Rows, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// FromRows builds a WideTable from a header and text rows. An empty key picks CIP13
// when present, else GEN_NUM. Every column outside the fixed key set is a prescriber
// specialty. Cells are coerced with ParseCount.
func FromRows(header []string, rows [][]string, key ProductKey) (*WideTable, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if _, seen := idx[h]; !seen {
			idx[h] = i
		}
	}

	if key == "" {
		switch {
		case has(idx, string(KeyBrand)):
			key = KeyBrand
		case has(idx, string(KeyGeneric)):
			key = KeyGeneric
		default:
			return nil, fmt.Errorf("%w: expected %s or %s", ErrMissingProductKey, KeyBrand, KeyGeneric)
		}
	} else if _, ok := ParseProductKey(string(key)); !ok || !has(idx, string(key)) {
		return nil, fmt.Errorf("%w: %q", ErrMissingProductKey, key)
	}

	for _, col := range []string{ColumnRegion, ColumnSex, ColumnAge, ColumnTotal} {
		if !has(idx, col) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	t := &WideTable{ProductKey: key}
	prescriberIdx := make(map[string][]int)
	for i, h := range header {
		if h == "" || keyColumns[h] {
			continue
		}
		if _, seen := prescriberIdx[h]; !seen {
			t.PrescriberCodes = append(t.PrescriberCodes, h)
		}
		prescriberIdx[h] = append(prescriberIdx[h], i)
	}

	t.Records = make([]WideRecord, 0, len(rows))
	for _, row := range rows {
		rec := WideRecord{
			Region:      csvio.Cell(row, idx[ColumnRegion]),
			Sex:         csvio.Cell(row, idx[ColumnSex]),
			Age:         csvio.Cell(row, idx[ColumnAge]),
			Product:     csvio.Cell(row, idx[string(key)]),
			TotalBoxes:  ParseCount(csvio.Cell(row, idx[ColumnTotal])),
			Prescribers: make(map[string]int64, len(t.PrescriberCodes)),
		}
		for _, code := range t.PrescriberCodes {
			var n int64
			for _, i := range prescriberIdx[code] {
				n += ParseCount(csvio.Cell(row, i))
			}
			rec.Prescribers[code] = n
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

func has(idx map[string]int, col string) bool {
	_, ok := idx[col]
	return ok
}
