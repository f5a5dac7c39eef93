// Package share compares branded and generic prescription volumes and derives market shares.
package share

// Side tags which source a row came from
type Side int

const (
	Brand Side = iota
	Generic
)

func (s Side) String() string {
	if s == Generic {
		return "generic"
	}
	return "brand"
}

// Ratio returns part/whole, or 0 when whole is 0
func Ratio(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

// volumes accumulates boxes per side
type volumes [2]int64

func (v *volumes) add(s Side, n int64) { v[s] += n }

// Shares are the derived fields shared by every comparison row
type Shares struct {
	CombinedTotal int64   `json:"combined_total"`
	BrandShare    float64 `json:"brand_share"`
	GenericShare  float64 `json:"generic_share"`
	// ShareDiff is (brand - generic) / combined
	ShareDiff float64 `json:"share_diff"`
}

// computeShares derives the combined total and the zero-guarded shares
func computeShares(brand, generic int64) Shares {
	combined := brand + generic
	return Shares{
		CombinedTotal: combined,
		BrandShare:    Ratio(brand, combined),
		GenericShare:  Ratio(generic, combined),
		ShareDiff:     Ratio(brand-generic, combined),
	}
}
