package volume

import (
	"encoding/json"
	"fmt"

	"github.com/drfirst/go-rxinsight/internal/lookup"
)

// Record field names used by the JSON and CSV encodings
const (
	FieldRegion = "Region"
	FieldSex    = "Sex"
	FieldAge    = "Age"
)

// NormalizedRecord is one labeled row. Counts is aligned with NormalizedTable.Prescribers.
type NormalizedRecord struct {
	Region     string
	Sex        string
	Age        string
	Product    string
	TotalBoxes int64
	Counts     []int64
}

// NormalizedTable holds labeled rows only; no raw codes survive normalization.
// Prescribers may contain the same label more than once when two specialty codes
// share a label; consumers summing by prescriber must add those columns together.
type NormalizedTable struct {
	// Display is "Medication" or "Generic"
	Display     string
	Prescribers []string
	Rows        []NormalizedRecord
}

// Normalize resolves the segment codes of t to labels and relabels its prescriber
// columns. Brand products get their resolved label, generic groups keep the raw
// group code since they have no product name.
func Normalize(t *WideTable, r *lookup.Resolver) (*NormalizedTable, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil table", ErrMissingProductKey)
	}
	if _, ok := ParseProductKey(string(t.ProductKey)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingProductKey, t.ProductKey)
	}

	out := &NormalizedTable{
		Display:     t.ProductKey.Display(),
		Prescribers: make([]string, len(t.PrescriberCodes)),
		Rows:        make([]NormalizedRecord, 0, len(t.Records)),
	}
	for i, code := range t.PrescriberCodes {
		out.Prescribers[i] = r.Resolve(lookup.DimensionPrescriber, code)
	}

	for _, rec := range t.Records {
		product := rec.Product
		if t.ProductKey == KeyBrand {
			product = r.Resolve(lookup.DimensionProduct, rec.Product)
		}
		counts := make([]int64, len(t.PrescriberCodes))
		for i, code := range t.PrescriberCodes {
			counts[i] = nonNegative(rec.Prescribers[code])
		}
		out.Rows = append(out.Rows, NormalizedRecord{
			Region:     r.Resolve(lookup.DimensionRegion, rec.Region),
			Sex:        r.Resolve(lookup.DimensionSex, rec.Sex),
			Age:        r.Resolve(lookup.DimensionAge, rec.Age),
			Product:    product,
			TotalBoxes: nonNegative(rec.TotalBoxes),
			Counts:     counts,
		})
	}
	return out, nil
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// PrescriberLabels returns the distinct prescriber labels in column order
func (t *NormalizedTable) PrescriberLabels() []string {
	seen := make(map[string]bool, len(t.Prescribers))
	labels := make([]string, 0, len(t.Prescribers))
	for _, l := range t.Prescribers {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	return labels
}

// SumByPrescriber adds the counts of one row per label, merging same-label columns
func (t *NormalizedTable) SumByPrescriber(row NormalizedRecord) map[string]int64 {
	sums := make(map[string]int64, len(t.Prescribers))
	for i, l := range t.Prescribers {
		var n int64
		if i < len(row.Counts) {
			n = row.Counts[i]
		}
		sums[l] += n
	}
	return sums
}

// PrescriberSuffix is appended to a prescriber label that equals one of the
// fixed record fields, so both values survive in record form.
const PrescriberSuffix = " (prescriber)"

// PrescriberKey returns the record key used for a prescriber label
func (t *NormalizedTable) PrescriberKey(label string) string {
	switch label {
	case FieldRegion, FieldSex, FieldAge, ColumnTotal, t.Display:
		return label + PrescriberSuffix
	}
	return label
}

// Records converts the table to record form: one map per row keyed by
// Region, Sex, Age, the display column, total_boites and each prescriber label.
func (t *NormalizedTable) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]any, len(t.Prescribers)+5)
		for l, n := range t.SumByPrescriber(row) {
			m[t.PrescriberKey(l)] = n
		}
		m[FieldRegion] = row.Region
		m[FieldSex] = row.Sex
		m[FieldAge] = row.Age
		m[t.Display] = row.Product
		m[ColumnTotal] = row.TotalBoxes
		out = append(out, m)
	}
	return out
}

// MarshalJSON encodes the table in record form. Map keys are emitted sorted so
// identical tables always encode to identical bytes.
func (t *NormalizedTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Records())
}
