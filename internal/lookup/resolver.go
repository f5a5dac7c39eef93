// Package lookup resolves the numeric codes found in prescription extracts to display labels.
package lookup

import (
	"sort"
)

// Dimension identifies one code->label mapping
type Dimension string

const (
	DimensionRegion     Dimension = "region"
	DimensionSex        Dimension = "sex"
	DimensionAge        Dimension = "age"
	DimensionPrescriber Dimension = "prescriber"
	DimensionProduct    Dimension = "product"
)

// Dimensions lists every supported dimension in load order
var Dimensions = []Dimension{
	DimensionRegion,
	DimensionSex,
	DimensionAge,
	DimensionPrescriber,
	DimensionProduct,
}

// ParseDimension converts a dimension name; ok is false for unknown names
func ParseDimension(s string) (Dimension, bool) {
	for _, d := range Dimensions {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// Resolver maps codes to labels. It is immutable once built and safe for concurrent use.
type Resolver struct {
	maps map[Dimension]map[string]string
}

// NewResolver builds a resolver from per-dimension maps. The maps are copied.
func NewResolver(maps map[Dimension]map[string]string) *Resolver {
	r := &Resolver{maps: make(map[Dimension]map[string]string, len(maps))}
	for dim, m := range maps {
		cp := make(map[string]string, len(m))
		for k, v := range m {
			cp[k] = v
		}
		r.maps[dim] = cp
	}
	return r
}

// Resolve returns the label for code, or code itself when the dimension has no entry for it
func (r *Resolver) Resolve(dim Dimension, code string) string {
	if r == nil {
		return code
	}
	if label, ok := r.maps[dim][code]; ok {
		return label
	}
	return code
}

// Has reports whether code has a label in dim
func (r *Resolver) Has(dim Dimension, code string) bool {
	if r == nil {
		return false
	}
	_, ok := r.maps[dim][code]
	return ok
}

// Codes returns the known codes of dim in ascending order
func (r *Resolver) Codes(dim Dimension) []string {
	if r == nil {
		return nil
	}
	codes := make([]string, 0, len(r.maps[dim]))
	for code := range r.maps[dim] {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of entries loaded for dim
func (r *Resolver) Len(dim Dimension) int {
	if r == nil {
		return 0
	}
	return len(r.maps[dim])
}
