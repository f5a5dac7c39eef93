package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/drfirst/go-rxinsight/internal/domain/share"
)

// DimensionParquet is one rollup row. Label holds the region, age or sex label.
type DimensionParquet struct {
	Label         string  `parquet:"label"`
	BrandTotal    int64   `parquet:"brand_total"`
	GenericTotal  int64   `parquet:"generic_total"`
	CombinedTotal int64   `parquet:"combined_total"`
	BrandShare    float64 `parquet:"brand_share"`
	GenericShare  float64 `parquet:"generic_share"`
	ShareDiff     float64 `parquet:"share_diff"`
}

// SegmentParquet is one segment comparison row
type SegmentParquet struct {
	Region        string  `parquet:"region,dict"`
	Sex           string  `parquet:"sex,dict"`
	Age           string  `parquet:"age,dict"`
	BrandTotal    int64   `parquet:"brand_total"`
	GenericTotal  int64   `parquet:"generic_total"`
	CombinedTotal int64   `parquet:"combined_total"`
	BrandShare    float64 `parquet:"brand_share"`
	GenericShare  float64 `parquet:"generic_share"`
	ShareDiff     float64 `parquet:"share_diff"`
}

// PrescriberParquet is one prescriber comparison row
type PrescriberParquet struct {
	Region        string  `parquet:"region,dict"`
	Sex           string  `parquet:"sex,dict"`
	Age           string  `parquet:"age,dict"`
	Prescriber    string  `parquet:"prescriber,dict"`
	BrandBoxes    int64   `parquet:"brand_boxes"`
	GenericBoxes  int64   `parquet:"generic_boxes"`
	CombinedTotal int64   `parquet:"combined_total"`
	BrandShare    float64 `parquet:"brand_share"`
	GenericShare  float64 `parquet:"generic_share"`
	ShareDiff     float64 `parquet:"share_diff"`
}

func writeParquetBundle(dir string, c *share.Comparison) ([]string, error) {
	var paths []string
	add := func(name string, write func(string) error) error {
		path := filepath.Join(dir, name+".parquet")
		if err := write(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}

	if err := add(RegionFile, func(p string) error { return writeParquet(p, dimensionRows(c.Regions)) }); err != nil {
		return paths, err
	}
	if err := add(AgeFile, func(p string) error { return writeParquet(p, dimensionRows(c.Ages)) }); err != nil {
		return paths, err
	}
	if err := add(GenderFile, func(p string) error { return writeParquet(p, dimensionRows(c.Genders)) }); err != nil {
		return paths, err
	}
	if err := add(PrescriberFile, func(p string) error { return writeParquet(p, prescriberRows(c.Prescribers)) }); err != nil {
		return paths, err
	}
	if err := add(SegmentFile, func(p string) error { return writeParquet(p, segmentRows(c.Segments)) }); err != nil {
		return paths, err
	}
	return paths, nil
}

func writeParquet[T any](path string, rows []T) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	writer := parquet.NewGenericWriter[T](file,
		parquet.Compression(&parquet.Snappy),
	)
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		file.Close()
		return fmt.Errorf("failed to write parquet rows to %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return file.Close()
}

func dimensionRows(rows []share.DimensionRow) []DimensionParquet {
	out := make([]DimensionParquet, len(rows))
	for i, r := range rows {
		out[i] = DimensionParquet{
			Label:         r.Label,
			BrandTotal:    r.BrandTotal,
			GenericTotal:  r.GenericTotal,
			CombinedTotal: r.CombinedTotal,
			BrandShare:    r.BrandShare,
			GenericShare:  r.GenericShare,
			ShareDiff:     r.ShareDiff,
		}
	}
	return out
}

func segmentRows(rows []share.SegmentRow) []SegmentParquet {
	out := make([]SegmentParquet, len(rows))
	for i, r := range rows {
		out[i] = SegmentParquet{
			Region:        r.Region,
			Sex:           r.Sex,
			Age:           r.Age,
			BrandTotal:    r.BrandTotal,
			GenericTotal:  r.GenericTotal,
			CombinedTotal: r.CombinedTotal,
			BrandShare:    r.BrandShare,
			GenericShare:  r.GenericShare,
			ShareDiff:     r.ShareDiff,
		}
	}
	return out
}

func prescriberRows(rows []share.PrescriberRow) []PrescriberParquet {
	out := make([]PrescriberParquet, len(rows))
	for i, r := range rows {
		out[i] = PrescriberParquet{
			Region:        r.Region,
			Sex:           r.Sex,
			Age:           r.Age,
			Prescriber:    r.Prescriber,
			BrandBoxes:    r.BrandBoxes,
			GenericBoxes:  r.GenericBoxes,
			CombinedTotal: r.CombinedTotal,
			BrandShare:    r.BrandShare,
			GenericShare:  r.GenericShare,
			ShareDiff:     r.ShareDiff,
		}
	}
	return out
}
