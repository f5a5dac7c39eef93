package cachekey

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestForQueryIgnoresOrderAndDuplicates(t *testing.T) {
	a := ForQuery([]string{"3400938014792", "3400930000001"}, []string{"12"})
	b := ForQuery([]string{" 3400930000001", "3400938014792", "3400938014792"}, []string{"12", ""})
	if a != b {
		t.Errorf("equivalent requests produced different keys:\n%s\n%s", a, b)
	}
	if !strings.HasPrefix(a, NamespaceQuery) {
		t.Errorf("key %q lacks namespace", a)
	}

	// swapping the lists is a different request
	if ForQuery([]string{"12"}, []string{"3400938014792"}) == ForQuery([]string{"3400938014792"}, []string{"12"}) {
		t.Error("brand and generic lists must not be interchangeable")
	}
}

func TestForFilesChangesWithContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brand.csv")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	first, err := ForFiles(NamespaceFiles, path)
	if err != nil {
		t.Fatalf("ForFiles: %v", err)
	}

	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	second, _ := ForFiles(NamespaceFiles, path)
	if first == second {
		t.Error("rewritten file should produce a new key")
	}

	if _, err := ForFiles(NamespaceFiles, filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWith(t *testing.T) {
	base := ForQuery([]string{"1"}, nil)
	if With(base) != base {
		t.Error("With without parts should return the key unchanged")
	}
	if With(base, "sex=Male") == With(base, "sex=Female") {
		t.Error("different discriminators should differ")
	}
}
