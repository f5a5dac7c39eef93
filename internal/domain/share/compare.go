package share

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/drfirst/go-rxinsight/internal/domain/volume"
	"github.com/drfirst/go-rxinsight/internal/lookup"
)

// Rollup dimensions
const (
	DimensionRegion = "Region"
	DimensionAge    = "Age"
	DimensionSex    = "Sex"
)

// SegmentRow compares both sources for one (region, sex, age) segment
type SegmentRow struct {
	RegionCode string `json:"-"`
	SexCode    string `json:"-"`
	AgeCode    string `json:"-"`

	Region       string `json:"Region"`
	Sex          string `json:"Sex"`
	Age          string `json:"Age"`
	BrandTotal   int64  `json:"brand_total"`
	GenericTotal int64  `json:"generic_total"`
	Shares
}

// DimensionRow rolls segments up on a single labeled dimension
type DimensionRow struct {
	Dimension    string
	Label        string
	BrandTotal   int64
	GenericTotal int64
	Shares
}

// MarshalJSON uses the dimension name as the label key, e.g. {"Region": "Centre", ...}
func (d DimensionRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		d.Dimension:      d.Label,
		"brand_total":    d.BrandTotal,
		"generic_total":  d.GenericTotal,
		"combined_total": d.CombinedTotal,
		"brand_share":    d.BrandShare,
		"generic_share":  d.GenericShare,
		"share_diff":     d.ShareDiff,
	})
}

// PrescriberRow compares both sources for one specialty within a segment
type PrescriberRow struct {
	RegionCode     string `json:"-"`
	SexCode        string `json:"-"`
	AgeCode        string `json:"-"`
	PrescriberCode string `json:"-"`

	Region       string `json:"Region"`
	Sex          string `json:"Sex"`
	Age          string `json:"Age"`
	Prescriber   string `json:"Prescriber"`
	BrandBoxes   int64  `json:"brand_boxes"`
	GenericBoxes int64  `json:"generic_boxes"`
	Shares
}

// Comparison is the full brand-vs-generic bundle
type Comparison struct {
	Segments    []SegmentRow    `json:"segment_comparison"`
	Regions     []DimensionRow  `json:"region_summary"`
	Ages        []DimensionRow  `json:"age_summary"`
	Genders     []DimensionRow  `json:"gender_summary"`
	Prescribers []PrescriberRow `json:"prescriber_comparison"`
}

// Totals returns the overall brand and generic volumes
func (c *Comparison) Totals() (brand, generic int64) {
	for _, s := range c.Segments {
		brand += s.BrandTotal
		generic += s.GenericTotal
	}
	return brand, generic
}

type segment struct {
	region, sex, age string
}

func (a segment) less(b segment) bool {
	if a.region != b.region {
		return a.region < b.region
	}
	if a.sex != b.sex {
		return a.sex < b.sex
	}
	return a.age < b.age
}

type prescriberKey struct {
	segment
	prescriber string
}

func (a prescriberKey) less(b prescriberKey) bool {
	if a.segment != b.segment {
		return a.segment.less(b.segment)
	}
	return a.prescriber < b.prescriber
}

type taggedRecord struct {
	side Side
	rec  volume.WideRecord
	// prescriber codes of the source table, in column order
	codes []string
}

// Compare joins the brand and generic tables on the (region, sex, age) codes and on
// (region, sex, age, prescriber), filling a missing side with 0. Labels are resolved
// after the numeric join, and the single-dimension rollups group by label so codes
// sharing a label are summed. Rows come out ordered by key, then stably by
// ascending brand share.
func Compare(brand, generic *volume.WideTable, r *lookup.Resolver) (*Comparison, error) {
	if err := check(brand, Brand); err != nil {
		return nil, err
	}
	if err := check(generic, Generic); err != nil {
		return nil, err
	}

	rows := make([]taggedRecord, 0, len(brand.Records)+len(generic.Records))
	for _, t := range []struct {
		side  Side
		table *volume.WideTable
	}{{Brand, brand}, {Generic, generic}} {
		for _, rec := range t.table.Records {
			rows = append(rows, taggedRecord{side: t.side, rec: rec, codes: t.table.PrescriberCodes})
		}
	}

	c := &Comparison{
		Segments:    segments(rows, r),
		Prescribers: prescribers(rows, r),
	}
	c.Regions = rollup(c.Segments, DimensionRegion, func(s SegmentRow) string { return s.Region })
	c.Ages = rollup(c.Segments, DimensionAge, func(s SegmentRow) string { return s.Age })
	c.Genders = rollup(c.Segments, DimensionSex, func(s SegmentRow) string { return s.Sex })
	return c, nil
}

func check(t *volume.WideTable, side Side) error {
	if t == nil {
		return fmt.Errorf("%s table: %w", side, volume.ErrMissingProductKey)
	}
	if _, ok := volume.ParseProductKey(string(t.ProductKey)); !ok {
		return fmt.Errorf("%s table: %w: %q", side, volume.ErrMissingProductKey, t.ProductKey)
	}
	return nil
}

func segments(rows []taggedRecord, r *lookup.Resolver) []SegmentRow {
	sums := make(map[segment]*volumes)
	for _, row := range rows {
		k := segment{row.rec.Region, row.rec.Sex, row.rec.Age}
		v, ok := sums[k]
		if !ok {
			v = &volumes{}
			sums[k] = v
		}
		v.add(row.side, row.rec.TotalBoxes)
	}

	keys := make([]segment, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	out := make([]SegmentRow, 0, len(keys))
	for _, k := range keys {
		v := sums[k]
		out = append(out, SegmentRow{
			RegionCode:   k.region,
			SexCode:      k.sex,
			AgeCode:      k.age,
			Region:       r.Resolve(lookup.DimensionRegion, k.region),
			Sex:          r.Resolve(lookup.DimensionSex, k.sex),
			Age:          r.Resolve(lookup.DimensionAge, k.age),
			BrandTotal:   v[Brand],
			GenericTotal: v[Generic],
			Shares:       computeShares(v[Brand], v[Generic]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BrandShare < out[j].BrandShare })
	return out
}

func rollup(segs []SegmentRow, dim string, label func(SegmentRow) string) []DimensionRow {
	sums := make(map[string]*volumes)
	for _, s := range segs {
		l := label(s)
		v, ok := sums[l]
		if !ok {
			v = &volumes{}
			sums[l] = v
		}
		v.add(Brand, s.BrandTotal)
		v.add(Generic, s.GenericTotal)
	}

	labels := make([]string, 0, len(sums))
	for l := range sums {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	out := make([]DimensionRow, 0, len(labels))
	for _, l := range labels {
		v := sums[l]
		out = append(out, DimensionRow{
			Dimension:    dim,
			Label:        l,
			BrandTotal:   v[Brand],
			GenericTotal: v[Generic],
			Shares:       computeShares(v[Brand], v[Generic]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BrandShare < out[j].BrandShare })
	return out
}

// prescribers melts every specialty column to (segment, prescriber, boxes) and sums
// duplicates, so several products in one segment collapse to a single row per side
func prescribers(rows []taggedRecord, r *lookup.Resolver) []PrescriberRow {
	sums := make(map[prescriberKey]*volumes)
	for _, row := range rows {
		seg := segment{row.rec.Region, row.rec.Sex, row.rec.Age}
		for _, code := range row.codes {
			k := prescriberKey{seg, code}
			v, ok := sums[k]
			if !ok {
				v = &volumes{}
				sums[k] = v
			}
			v.add(row.side, row.rec.Prescribers[code])
		}
	}

	keys := make([]prescriberKey, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	out := make([]PrescriberRow, 0, len(keys))
	for _, k := range keys {
		v := sums[k]
		out = append(out, PrescriberRow{
			RegionCode:     k.region,
			SexCode:        k.sex,
			AgeCode:        k.age,
			PrescriberCode: k.prescriber,
			Region:         r.Resolve(lookup.DimensionRegion, k.region),
			Sex:            r.Resolve(lookup.DimensionSex, k.sex),
			Age:            r.Resolve(lookup.DimensionAge, k.age),
			Prescriber:     r.Resolve(lookup.DimensionPrescriber, k.prescriber),
			BrandBoxes:     v[Brand],
			GenericBoxes:   v[Generic],
			Shares:         computeShares(v[Brand], v[Generic]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BrandShare < out[j].BrandShare })
	return out
}
