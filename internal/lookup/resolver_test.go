package lookup

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func testResolver() *Resolver {
	return NewResolver(map[Dimension]map[string]string{
		DimensionRegion: {"5": "Ile-de-France", "11": "Ile-de-France", "24": "Centre"},
		DimensionSex:    {"1": "Male", "2": "Female"},
	})
}

func TestResolve(t *testing.T) {
	r := testResolver()

	tests := []struct {
		dim  Dimension
		code string
		want string
	}{
		{DimensionRegion, "5", "Ile-de-France"},
		{DimensionRegion, "11", "Ile-de-France"},
		{DimensionSex, "2", "Female"},
		{DimensionSex, "9", "9"},   // unmapped code passes through
		{DimensionAge, "20", "20"}, // dimension never loaded
		{DimensionRegion, "", ""},  // empty code
		{DimensionProduct, "3400938014792", "3400938014792"},
	}
	for _, tt := range tests {
		if got := r.Resolve(tt.dim, tt.code); got != tt.want {
			t.Errorf("Resolve(%s, %q) = %q, want %q", tt.dim, tt.code, got, tt.want)
		}
	}
}

func TestResolveNilResolver(t *testing.T) {
	var r *Resolver
	if got := r.Resolve(DimensionSex, "1"); got != "1" {
		t.Errorf("nil resolver should pass codes through, got %q", got)
	}
	if r.Has(DimensionSex, "1") || r.Len(DimensionSex) != 0 || r.Codes(DimensionSex) != nil {
		t.Error("nil resolver should be empty")
	}
}

func TestNewResolverCopiesInput(t *testing.T) {
	src := map[Dimension]map[string]string{DimensionSex: {"1": "Male"}}
	r := NewResolver(src)
	src[DimensionSex]["1"] = "changed"
	if got := r.Resolve(DimensionSex, "1"); got != "Male" {
		t.Errorf("resolver must not observe later changes to its input, got %q", got)
	}
}

func TestCodesSorted(t *testing.T) {
	r := testResolver()
	want := []string{"11", "24", "5"}
	if got := r.Codes(DimensionRegion); !reflect.DeepEqual(got, want) {
		t.Errorf("Codes = %v, want %v", got, want)
	}
	if r.Len(DimensionRegion) != 3 || !r.Has(DimensionRegion, "24") {
		t.Error("unexpected Len/Has")
	}
}

func TestParseDimension(t *testing.T) {
	if d, ok := ParseDimension("prescriber"); !ok || d != DimensionPrescriber {
		t.Errorf("ParseDimension(prescriber) = %v, %v", d, ok)
	}
	if _, ok := ParseDimension("company"); ok {
		t.Error("unknown dimension should not parse")
	}
}

func TestReadTable(t *testing.T) {
	m, err := ReadTable(strings.NewReader("Key,Value\n1,Male\n2,Female\n1,Homme\n,skipped\n"))
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if m["1"] != "Homme" {
		t.Errorf("later duplicate should win, got %q", m["1"])
	}
	if len(m) != 2 {
		t.Errorf("expected 2 entries, got %d", len(m))
	}
}

func TestReadTableMissingColumn(t *testing.T) {
	_, err := ReadTable(strings.NewReader("Code,Label\n1,Male\n"))
	if !errors.Is(err, ErrMalformedTable) {
		t.Fatalf("expected ErrMalformedTable, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"ben_reg.csv":     "Key,Value\n5,Ile-de-France\n",
		"sex.csv":         "Key,Value\n1,Male\n",
		"age.csv":         "Key,Value\n20,20-59\n",
		"prescribers.csv": "Key,Value\n1,General Medical Practice (Private)\n",
		"cpi.csv":         "Key,Value\n3400938014792,DOLIPRANE 1000MG\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	r, err := Load(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Resolve(DimensionAge, "20"); got != "20-59" {
		t.Errorf("age label = %q", got)
	}
	if got := r.Resolve(DimensionProduct, "3400938014792"); got != "DOLIPRANE 1000MG" {
		t.Errorf("product label = %q", got)
	}
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	if _, err := Load(cfg); err == nil {
		t.Error("expected error when lookup files are missing")
	}

	cfg.Files = map[Dimension]string{DimensionSex: "sex.csv"}
	if err := os.WriteFile(filepath.Join(dir, "sex.csv"), []byte("Key\n1\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(cfg); !errors.Is(err, ErrMalformedTable) {
		t.Errorf("expected ErrMalformedTable, got %v", err)
	}
}
