package service

import (
	"fmt"

	"github.com/drfirst/go-rxinsight/internal/csvio"
	"github.com/drfirst/go-rxinsight/internal/domain/share"
	"github.com/drfirst/go-rxinsight/internal/domain/volume"
	"github.com/drfirst/go-rxinsight/internal/lookup"
)

// LoadPair reads the brand and generic extracts
func LoadPair(brandPath, genericPath string, opts csvio.Options) (brand, generic *volume.WideTable, err error) {
	brand, err = volume.ReadWideFile(brandPath, volume.KeyBrand, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("load brand extract: %w", err)
	}
	generic, err = volume.ReadWideFile(genericPath, volume.KeyGeneric, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("load generic extract: %w", err)
	}
	return brand, generic, nil
}

// CompareFiles loads both extracts and compares them
func CompareFiles(brandPath, genericPath string, opts csvio.Options, r *lookup.Resolver) (*share.Comparison, error) {
	brand, generic, err := LoadPair(brandPath, genericPath, opts)
	if err != nil {
		return nil, err
	}
	return share.Compare(brand, generic, r)
}

// ResultFromFiles builds the execute-query payload from extracts instead of the database
func ResultFromFiles(brandPath, genericPath string, opts csvio.Options, r *lookup.Resolver) (*QueryResult, error) {
	brand, generic, err := LoadPair(brandPath, genericPath, opts)
	if err != nil {
		return nil, err
	}
	return build(brand, generic, r)
}

// NormalizeFile reads and normalizes one extract. An empty key is detected from the header.
func NormalizeFile(path string, key volume.ProductKey, opts csvio.Options, r *lookup.Resolver) (*volume.NormalizedTable, error) {
	wide, err := volume.ReadWideFile(path, key, opts)
	if err != nil {
		return nil, err
	}
	return volume.Normalize(wide, r)
}

// SummarizeFile normalizes one extract and computes its dashboard summary
func SummarizeFile(path string, key volume.ProductKey, f volume.Filter, opts csvio.Options, r *lookup.Resolver) (*volume.Summary, error) {
	n, err := NormalizeFile(path, key, opts, r)
	if err != nil {
		return nil, err
	}
	return volume.Summarize(n, f), nil
}
