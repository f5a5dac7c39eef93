package volume

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/drfirst/go-rxinsight/internal/csvio"
	"github.com/drfirst/go-rxinsight/internal/lookup"
)

func testResolver() *lookup.Resolver {
	return lookup.NewResolver(map[lookup.Dimension]map[string]string{
		lookup.DimensionRegion:     {"5": "Ile-de-France", "11": "Ile-de-France", "24": "Centre"},
		lookup.DimensionSex:        {"1": "Male", "2": "Female"},
		lookup.DimensionAge:        {"20": "20-59"},
		lookup.DimensionPrescriber: {"1": "General Practice", "2": "Cardiology", "3": "General Practice"},
		lookup.DimensionProduct:    {"3400938014792": "DOLIPRANE 1000MG"},
	})
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"42", 42},
		{" 42 ", 42},
		{"1,234", 0},
		{"12,5", 0},
		{"3_0", 0},
		{"12.9", 12},
		{"1e3", 1000},
		{"", 0},
		{"abc", 0},
		{"-5", 0},
		{"-0.5", 0},
		{"NaN", 0},
		{"inf", 0},
		{"3 000", 0},
		{"1\u00a0234", 0},
	}
	for _, tt := range tests {
		if got := ParseCount(tt.in); got != tt.want {
			t.Errorf("ParseCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

const brandCSV = `BEN_REG,sexe,age,CIP13,total_boites,1,2,3
5,1,20,3400938014792,100,60,40,
24,2,99,3400000000000,abc,x,5,7
`

func TestReadWide(t *testing.T) {
	tbl, err := ReadWide(strings.NewReader(brandCSV), "", csvio.Options{})
	if err != nil {
		t.Fatalf("ReadWide: %v", err)
	}
	if tbl.ProductKey != KeyBrand {
		t.Errorf("ProductKey = %q, want %q", tbl.ProductKey, KeyBrand)
	}
	if want := []string{"1", "2", "3"}; !reflect.DeepEqual(tbl.PrescriberCodes, want) {
		t.Errorf("PrescriberCodes = %v, want %v", tbl.PrescriberCodes, want)
	}
	if len(tbl.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(tbl.Records))
	}

	first := tbl.Records[0]
	if first.TotalBoxes != 100 || first.Prescribers["1"] != 60 || first.Prescribers["3"] != 0 {
		t.Errorf("unexpected first record %+v", first)
	}
	second := tbl.Records[1]
	if second.TotalBoxes != 0 || second.Prescribers["1"] != 0 || second.Prescribers["3"] != 7 {
		t.Errorf("unparsable cells should coerce to 0: %+v", second)
	}
}

func TestFromRowsKeyDetection(t *testing.T) {
	header := []string{"BEN_REG", "sexe", "age", "GEN_NUM", "total_boites", "1"}
	tbl, err := FromRows(header, [][]string{{"5", "1", "20", "1234", "50", "50"}}, "")
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	if tbl.ProductKey != KeyGeneric {
		t.Errorf("ProductKey = %q, want GEN_NUM", tbl.ProductKey)
	}

	if _, err := FromRows(header, nil, KeyBrand); !errors.Is(err, ErrMissingProductKey) {
		t.Errorf("requested key absent: got %v", err)
	}
	noKey := []string{"BEN_REG", "sexe", "age", "total_boites"}
	if _, err := FromRows(noKey, nil, ""); !errors.Is(err, ErrMissingProductKey) {
		t.Errorf("no key column: got %v", err)
	}
	noAge := []string{"BEN_REG", "sexe", "CIP13", "total_boites"}
	if _, err := FromRows(noAge, nil, ""); !errors.Is(err, ErrMissingColumn) {
		t.Errorf("missing age: got %v", err)
	}
}

func TestFromRowsIgnoresOtherProductKey(t *testing.T) {
	header := []string{"BEN_REG", "sexe", "age", "CIP13", "GEN_NUM", "total_boites", "1"}
	tbl, err := FromRows(header, [][]string{{"5", "1", "20", "X", "G", "10", "10"}}, KeyGeneric)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	if !reflect.DeepEqual(tbl.PrescriberCodes, []string{"1"}) {
		t.Errorf("CIP13 must not become a prescriber column: %v", tbl.PrescriberCodes)
	}
	if tbl.Records[0].Product != "G" {
		t.Errorf("product = %q, want G", tbl.Records[0].Product)
	}
}

func TestNormalizeBrand(t *testing.T) {
	tbl, err := ReadWide(strings.NewReader(brandCSV), KeyBrand, csvio.Options{})
	if err != nil {
		t.Fatalf("ReadWide: %v", err)
	}
	n, err := Normalize(tbl, testResolver())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if n.Display != "Medication" {
		t.Errorf("Display = %q", n.Display)
	}
	if want := []string{"General Practice", "Cardiology", "General Practice"}; !reflect.DeepEqual(n.Prescribers, want) {
		t.Errorf("Prescribers = %v, want %v", n.Prescribers, want)
	}
	if want := []string{"General Practice", "Cardiology"}; !reflect.DeepEqual(n.PrescriberLabels(), want) {
		t.Errorf("PrescriberLabels = %v, want %v", n.PrescriberLabels(), want)
	}

	row := n.Rows[0]
	if row.Region != "Ile-de-France" || row.Sex != "Male" || row.Age != "20-59" || row.Product != "DOLIPRANE 1000MG" {
		t.Errorf("labels not resolved: %+v", row)
	}
	// lookup miss passes the code through
	if n.Rows[1].Age != "99" || n.Rows[1].Product != "3400000000000" {
		t.Errorf("unmapped codes should pass through: %+v", n.Rows[1])
	}

	sums := n.SumByPrescriber(n.Rows[1])
	if sums["General Practice"] != 7 || sums["Cardiology"] != 5 {
		t.Errorf("same-label columns should be summed: %v", sums)
	}
}

func TestNormalizeGenericKeepsGroupCode(t *testing.T) {
	r := lookup.NewResolver(map[lookup.Dimension]map[string]string{
		lookup.DimensionProduct: {"1234": "should not be used"},
	})
	tbl := &WideTable{
		ProductKey: KeyGeneric,
		Records:    []WideRecord{{Region: "5", Sex: "1", Age: "20", Product: "1234", TotalBoxes: 50}},
	}
	n, err := Normalize(tbl, r)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if n.Display != "Generic" || n.Rows[0].Product != "1234" {
		t.Errorf("generic display = %q / %q", n.Display, n.Rows[0].Product)
	}
}

func TestNormalizeErrors(t *testing.T) {
	if _, err := Normalize(nil, nil); !errors.Is(err, ErrMissingProductKey) {
		t.Errorf("nil table: got %v", err)
	}
	if _, err := Normalize(&WideTable{ProductKey: "ATC"}, nil); !errors.Is(err, ErrMissingProductKey) {
		t.Errorf("bad key: got %v", err)
	}
}

func TestNormalizedJSONHasNoCodes(t *testing.T) {
	tbl, _ := ReadWide(strings.NewReader(brandCSV), KeyBrand, csvio.Options{})
	n, _ := Normalize(tbl, testResolver())

	first, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, col := range []string{ColumnRegion, ColumnSex, `"age"`, string(KeyBrand), string(KeyGeneric)} {
		if bytes.Contains(first, []byte(col)) {
			t.Errorf("encoded table leaks raw column %s: %s", col, first)
		}
	}

	var records []map[string]any
	if err := json.Unmarshal(first, &records); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if records[0]["Medication"] != "DOLIPRANE 1000MG" || records[0]["total_boites"] != float64(100) {
		t.Errorf("unexpected record %v", records[0])
	}

	// unchanged input encodes to the same bytes
	again, _ := Normalize(tbl, testResolver())
	second, _ := json.Marshal(again)
	if !bytes.Equal(first, second) {
		t.Error("re-encoding produced different bytes")
	}
}

func TestRecordsKeepPrescriberNamedLikeField(t *testing.T) {
	tbl, err := FromRows(
		[]string{"BEN_REG", "sexe", "age", "CIP13", "total_boites", "99", "1"},
		[][]string{{"5", "1", "20", "X", "100", "7", "3"}},
		KeyBrand)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	r := lookup.NewResolver(map[lookup.Dimension]map[string]string{
		lookup.DimensionPrescriber: {"99": "Region", "1": "Medication"},
	})
	n, err := Normalize(tbl, r)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	rec := n.Records()[0]
	if rec[FieldRegion] != "5" || rec["Medication"] != "X" {
		t.Errorf("fixed fields overwritten: %v", rec)
	}
	if rec["Region"+PrescriberSuffix] != int64(7) || rec["Medication"+PrescriberSuffix] != int64(3) {
		t.Errorf("prescriber counts lost: %v", rec)
	}
	if got := n.PrescriberKey("Cardiology"); got != "Cardiology" {
		t.Errorf("PrescriberKey(Cardiology) = %q", got)
	}
}

func TestPivot(t *testing.T) {
	facts := []FactRow{
		{Region: "5", Sex: "1", Age: "20", Product: "X", Prescriber: "2", Boxes: 30},
		{Region: "5", Sex: "1", Age: "20", Product: "X", Prescriber: "1", Boxes: 60},
		{Region: "5", Sex: "1", Age: "20", Product: "X", Prescriber: "2", Boxes: 10},
		{Region: "11", Sex: "2", Age: "20", Product: "X", Prescriber: "1", Boxes: 5.7},
		{Region: "11", Sex: "2", Age: "20", Product: "X", Prescriber: "", Boxes: 3},
	}
	tbl := Pivot(facts, KeyBrand)

	if want := []string{"1", "2"}; !reflect.DeepEqual(tbl.PrescriberCodes, want) {
		t.Errorf("PrescriberCodes = %v, want %v", tbl.PrescriberCodes, want)
	}
	if len(tbl.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(tbl.Records))
	}
	// "11" sorts before "5"
	r0, r1 := tbl.Records[0], tbl.Records[1]
	if r0.Region != "11" || r0.TotalBoxes != 8 || r0.Prescribers["1"] != 5 || r0.Prescribers["2"] != 0 {
		t.Errorf("unexpected record %+v", r0)
	}
	if r1.TotalBoxes != 100 || r1.Prescribers["1"] != 60 || r1.Prescribers["2"] != 40 {
		t.Errorf("unexpected record %+v", r1)
	}
}

func TestSummarize(t *testing.T) {
	n := &NormalizedTable{
		Display:     "Medication",
		Prescribers: []string{"GP", "Cardiology", "GP"},
		Rows: []NormalizedRecord{
			{Region: "Centre", Sex: "Male", Age: "20-59", Product: "A", TotalBoxes: 30, Counts: []int64{10, 10, 10}},
			{Region: "Bretagne", Sex: "Female", Age: "60+", Product: "A", TotalBoxes: 10, Counts: []int64{5, 5, 0}},
			{Region: "Centre", Sex: "Female", Age: "20-59", Product: "B", TotalBoxes: 20, Counts: []int64{0, 20, 0}},
		},
	}

	s := Summarize(n, Filter{})
	if s.TotalBoxes != 60 || s.Rows != 3 || s.AvgBoxes != 20 || s.UniqueProducts != 2 {
		t.Errorf("unexpected KPIs %+v", s)
	}
	if want := []Slice{{"Bretagne", 10}, {"Centre", 50}}; !reflect.DeepEqual(s.ByRegion, want) {
		t.Errorf("ByRegion = %v, want %v", s.ByRegion, want)
	}
	if want := []Slice{{"Cardiology", 15}, {"GP", 25}}; !reflect.DeepEqual(s.Products[0].ByPrescriber, want) {
		t.Errorf("product A ByPrescriber = %v, want %v", s.Products[0].ByPrescriber, want)
	}
	if want := []string{"A", "B"}; !reflect.DeepEqual(s.Options.Product, want) {
		t.Errorf("Options.Product = %v", s.Options.Product)
	}

	filtered := Summarize(n, Filter{Sex: []string{"Female"}, Product: []string{"B"}})
	if filtered.TotalBoxes != 20 || filtered.UniqueProducts != 1 {
		t.Errorf("unexpected filtered KPIs %+v", filtered)
	}
	if len(filtered.Options.Region) != 2 {
		t.Errorf("options should come from the unfiltered table: %v", filtered.Options.Region)
	}

	empty := Summarize(n, Filter{Region: []string{"Nowhere"}})
	if empty.AvgBoxes != 0 || empty.TotalBoxes != 0 || len(empty.Products) != 0 {
		t.Errorf("empty selection should produce zero KPIs: %+v", empty)
	}
}
