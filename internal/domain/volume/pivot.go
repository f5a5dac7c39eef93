package volume

import "sort"

// FactRow is one ungrouped row returned by the fact query
type FactRow struct {
	Region     string
	Sex        string
	Age        string
	Product    string
	Prescriber string
	Boxes      float64
}

type segmentKey struct {
	region, sex, age, product string
}

func (a segmentKey) less(b segmentKey) bool {
	if a.region != b.region {
		return a.region < b.region
	}
	if a.sex != b.sex {
		return a.sex < b.sex
	}
	if a.age != b.age {
		return a.age < b.age
	}
	return a.product < b.product
}

// Pivot groups fact rows into the wide shape: boxes are summed per
// (region, sex, age, product) into TotalBoxes and per prescriber specialty into
// columns, with absent combinations filled with 0. Facts without a specialty still
// count toward the total. Records are ordered by key tuple, columns by code.
func Pivot(facts []FactRow, key ProductKey) *WideTable {
	type acc struct {
		total       float64
		prescribers map[string]float64
	}

	groups := make(map[segmentKey]*acc)
	codes := make(map[string]struct{})
	for _, f := range facts {
		k := segmentKey{f.Region, f.Sex, f.Age, f.Product}
		a, ok := groups[k]
		if !ok {
			a = &acc{prescribers: make(map[string]float64)}
			groups[k] = a
		}
		a.total += f.Boxes
		if f.Prescriber == "" {
			continue
		}
		a.prescribers[f.Prescriber] += f.Boxes
		codes[f.Prescriber] = struct{}{}
	}

	t := &WideTable{ProductKey: key, PrescriberCodes: make([]string, 0, len(codes))}
	for code := range codes {
		t.PrescriberCodes = append(t.PrescriberCodes, code)
	}
	sort.Strings(t.PrescriberCodes)

	keys := make([]segmentKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	t.Records = make([]WideRecord, 0, len(keys))
	for _, k := range keys {
		a := groups[k]
		rec := WideRecord{
			Region:      k.region,
			Sex:         k.sex,
			Age:         k.age,
			Product:     k.product,
			TotalBoxes:  CountFromFloat(a.total),
			Prescribers: make(map[string]int64, len(t.PrescriberCodes)),
		}
		for _, code := range t.PrescriberCodes {
			rec.Prescribers[code] = CountFromFloat(a.prescribers[code])
		}
		t.Records = append(t.Records, rec)
	}
	return t
}
