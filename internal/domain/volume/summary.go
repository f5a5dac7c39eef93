package volume

import "sort"

// Filter selects rows by label. An empty list matches everything.
type Filter struct {
	Sex     []string `json:"sex,omitempty"`
	Age     []string `json:"age,omitempty"`
	Region  []string `json:"region,omitempty"`
	Product []string `json:"product,omitempty"`
}

func (f Filter) match(row NormalizedRecord) bool {
	return in(f.Sex, row.Sex) && in(f.Age, row.Age) && in(f.Region, row.Region) && in(f.Product, row.Product)
}

func in(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Apply returns a new table holding only the matching rows
func (f Filter) Apply(t *NormalizedTable) *NormalizedTable {
	out := &NormalizedTable{
		Display:     t.Display,
		Prescribers: append([]string(nil), t.Prescribers...),
	}
	for _, row := range t.Rows {
		if f.match(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// Slice is one labeled share of a breakdown
type Slice struct {
	Label string `json:"label"`
	Boxes int64  `json:"boxes"`
}

// ProductBreakdown splits one product's volume by prescriber and by region
type ProductBreakdown struct {
	Product      string  `json:"product"`
	ByPrescriber []Slice `json:"by_prescriber"`
	ByRegion     []Slice `json:"by_region"`
}

// Summary is the dashboard view of one normalized table
type Summary struct {
	Display        string             `json:"display"`
	Rows           int                `json:"rows"`
	TotalBoxes     int64              `json:"total_boxes"`
	AvgBoxes       float64            `json:"avg_boxes"`
	UniqueProducts int                `json:"unique_products"`
	ByRegion       []Slice            `json:"by_region"`
	ByAge          []Slice            `json:"by_age"`
	BySex          []Slice            `json:"by_sex"`
	Products       []ProductBreakdown `json:"products"`
	// Options lists the labels available for filtering, taken from the unfiltered table
	Options Filter `json:"options"`
}

// Summarize filters t and computes the KPIs and breakdowns shown on the dashboard.
// ByRegion is ordered by ascending volume; the other breakdowns by label.
func Summarize(t *NormalizedTable, f Filter) *Summary {
	d := f.Apply(t)
	s := &Summary{
		Display: t.Display,
		Rows:    len(d.Rows),
		Options: Options(t),
	}

	region := map[string]int64{}
	age := map[string]int64{}
	sex := map[string]int64{}
	products := map[string][]NormalizedRecord{}
	for _, row := range d.Rows {
		s.TotalBoxes += row.TotalBoxes
		region[row.Region] += row.TotalBoxes
		age[row.Age] += row.TotalBoxes
		sex[row.Sex] += row.TotalBoxes
		products[row.Product] = append(products[row.Product], row)
	}
	if s.Rows > 0 {
		s.AvgBoxes = float64(s.TotalBoxes) / float64(s.Rows)
	}
	s.UniqueProducts = len(products)

	s.ByRegion = toSlices(region)
	sort.SliceStable(s.ByRegion, func(i, j int) bool { return s.ByRegion[i].Boxes < s.ByRegion[j].Boxes })
	s.ByAge = toSlices(age)
	s.BySex = toSlices(sex)

	s.Products = make([]ProductBreakdown, 0, len(products))
	for _, p := range sortedKeys(products) {
		pres := map[string]int64{}
		reg := map[string]int64{}
		for _, row := range products[p] {
			for l, n := range d.SumByPrescriber(row) {
				pres[l] += n
			}
			reg[row.Region] += row.TotalBoxes
		}
		s.Products = append(s.Products, ProductBreakdown{
			Product:      p,
			ByPrescriber: toSlices(pres),
			ByRegion:     toSlices(reg),
		})
	}
	return s
}

// Options returns the sorted distinct labels of each filterable dimension
func Options(t *NormalizedTable) Filter {
	sex := map[string]bool{}
	age := map[string]bool{}
	region := map[string]bool{}
	product := map[string]bool{}
	for _, row := range t.Rows {
		sex[row.Sex] = true
		age[row.Age] = true
		region[row.Region] = true
		product[row.Product] = true
	}
	return Filter{
		Sex:     sortedKeys(sex),
		Age:     sortedKeys(age),
		Region:  sortedKeys(region),
		Product: sortedKeys(product),
	}
}

// toSlices converts label totals to a label-ordered list
func toSlices(m map[string]int64) []Slice {
	out := make([]Slice, 0, len(m))
	for _, l := range sortedKeys(m) {
		out = append(out, Slice{Label: l, Boxes: m[l]})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
