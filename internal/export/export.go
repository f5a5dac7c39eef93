// Package export writes comparison bundles and normalized tables to disk as
// CSV, Parquet or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/drfirst/go-rxinsight/internal/domain/share"
	"github.com/drfirst/go-rxinsight/internal/domain/volume"
)

// Format is an output encoding
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
)

// ParseFormat converts a format name, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatParquet, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want csv, parquet or json)", s)
}

// Base names of the five metrics files
const (
	RegionFile     = "region_summary_metrics"
	AgeFile        = "age_summary_metrics"
	GenderFile     = "gender_summary_metrics"
	PrescriberFile = "prescriber_comparison_metrics"
	SegmentFile    = "segment_comparison_metrics"
	// BundleFile holds the whole comparison in JSON form
	BundleFile = "brand_vs_generic"
)

var shareHeader = []string{"brand_total", "generic_total", "combined_total", "brand_share", "generic_share", "share_diff"}

// WriteComparison writes c into dir in the given format and returns the paths written.
// dir is created when missing.
func WriteComparison(dir string, format Format, c *share.Comparison) ([]string, error) {
	if c == nil {
		return nil, fmt.Errorf("nothing to export")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	switch format {
	case FormatCSV:
		return writeCSVBundle(dir, c)
	case FormatParquet:
		return writeParquetBundle(dir, c)
	case FormatJSON:
		path := filepath.Join(dir, BundleFile+".json")
		if err := writeFile(path, func(w io.Writer) error { return WriteJSON(w, c) }); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

func writeCSVBundle(dir string, c *share.Comparison) ([]string, error) {
	files := []struct {
		name string
		fn   func(io.Writer) error
	}{
		{RegionFile, func(w io.Writer) error { return writeDimensionCSV(w, share.DimensionRegion, c.Regions) }},
		{AgeFile, func(w io.Writer) error { return writeDimensionCSV(w, share.DimensionAge, c.Ages) }},
		{GenderFile, func(w io.Writer) error { return writeDimensionCSV(w, share.DimensionSex, c.Genders) }},
		{PrescriberFile, func(w io.Writer) error { return writePrescriberCSV(w, c.Prescribers) }},
		{SegmentFile, func(w io.Writer) error { return writeSegmentCSV(w, c.Segments) }},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name+".csv")
		if err := writeFile(path, f.fn); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func shareFields(s share.Shares, brand, generic int64) []string {
	return []string{
		strconv.FormatInt(brand, 10),
		strconv.FormatInt(generic, 10),
		strconv.FormatInt(s.CombinedTotal, 10),
		formatFloat(s.BrandShare),
		formatFloat(s.GenericShare),
		formatFloat(s.ShareDiff),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeDimensionCSV(w io.Writer, dim string, rows []share.DimensionRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{dim}, shareHeader...)); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(append([]string{r.Label}, shareFields(r.Shares, r.BrandTotal, r.GenericTotal)...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeSegmentCSV(w io.Writer, rows []share.SegmentRow) error {
	cw := csv.NewWriter(w)
	header := append([]string{volume.FieldRegion, volume.FieldSex, volume.FieldAge}, shareHeader...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := append([]string{r.Region, r.Sex, r.Age}, shareFields(r.Shares, r.BrandTotal, r.GenericTotal)...)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writePrescriberCSV(w io.Writer, rows []share.PrescriberRow) error {
	cw := csv.NewWriter(w)
	header := []string{volume.FieldRegion, volume.FieldSex, volume.FieldAge, "Prescriber",
		"brand_boxes", "generic_boxes", "combined_total", "brand_share", "generic_share", "share_diff"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := append([]string{r.Region, r.Sex, r.Age, r.Prescriber}, shareFields(r.Shares, r.BrandBoxes, r.GenericBoxes)...)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteNormalizedCSV writes t with one column per distinct prescriber label
func WriteNormalizedCSV(w io.Writer, t *volume.NormalizedTable) error {
	labels := t.PrescriberLabels()
	cw := csv.NewWriter(w)
	header := []string{volume.FieldRegion, volume.FieldSex, volume.FieldAge, t.Display, volume.ColumnTotal}
	for _, l := range labels {
		header = append(header, t.PrescriberKey(l))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		sums := t.SumByPrescriber(row)
		rec := make([]string, 0, len(header))
		rec = append(rec, row.Region, row.Sex, row.Age, row.Product, strconv.FormatInt(row.TotalBoxes, 10))
		for _, l := range labels {
			rec = append(rec, strconv.FormatInt(sums[l], 10))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
