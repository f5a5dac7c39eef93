package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxinsight/internal/csvio"
	"github.com/drfirst/go-rxinsight/internal/export"
	"github.com/drfirst/go-rxinsight/internal/lookup"
	"github.com/drfirst/go-rxinsight/internal/service"
	"github.com/drfirst/go-rxinsight/pkg/workerpool"
)

// Portfolio is one brand/generic extract pair
type Portfolio struct {
	Name    string `mapstructure:"name"`
	Brand   string `mapstructure:"brand"`
	Generic string `mapstructure:"generic"`
}

// PortfolioFile is the batch input:
//
//	format: parquet
//	portfolios:
//	  - name: paracetamol
//	    brand: extracts/paracetamol_cip13.csv
//	    generic: extracts/paracetamol_gen.csv
type PortfolioFile struct {
	Format     string      `mapstructure:"format"`
	Portfolios []Portfolio `mapstructure:"portfolios"`
}

// loadPortfolios reads a portfolio file. Relative extract paths are resolved
// against the file's directory.
func loadPortfolios(path string) (*PortfolioFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read portfolio file: %w", err)
	}
	pf := &PortfolioFile{}
	if err := v.Unmarshal(pf); err != nil {
		return nil, fmt.Errorf("decode portfolio file: %w", err)
	}
	if len(pf.Portfolios) == 0 {
		return nil, fmt.Errorf("%s lists no portfolios", path)
	}

	base := filepath.Dir(path)
	seen := map[string]bool{}
	for i := range pf.Portfolios {
		p := &pf.Portfolios[i]
		if p.Name == "" || p.Brand == "" || p.Generic == "" {
			return nil, fmt.Errorf("portfolio %d: name, brand and generic are required", i+1)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate portfolio %q", p.Name)
		}
		seen[p.Name] = true
		if !filepath.IsAbs(p.Brand) {
			p.Brand = filepath.Join(base, p.Brand)
		}
		if !filepath.IsAbs(p.Generic) {
			p.Generic = filepath.Join(base, p.Generic)
		}
	}
	return pf, nil
}

type batchResult struct {
	Name  string
	Paths []string
	Err   error
}

// runBatch compares every portfolio on a worker pool and writes each into out/<name>
func runBatch(ctx context.Context, portfolios []Portfolio, out string, format export.Format,
	opts csvio.Options, r *lookup.Resolver, workers int, logger *zap.Logger) ([]batchResult, error) {
	var (
		mu      sync.Mutex
		results []batchResult
	)
	record := func(res batchResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	cfg := workerpool.DefaultConfig()
	cfg.Workers = workers
	cfg.QueueSize = len(portfolios)
	cfg.ShutdownTimeout = time.Hour

	pool, err := workerpool.New(cfg, func(ctx context.Context, p Portfolio) error {
		c, err := service.CompareFiles(p.Brand, p.Generic, opts, r)
		if err != nil {
			record(batchResult{Name: p.Name, Err: err})
			return err
		}
		paths, err := export.WriteComparison(filepath.Join(out, p.Name), format, c)
		record(batchResult{Name: p.Name, Paths: paths, Err: err})
		return err
	}, logger)
	if err != nil {
		return nil, err
	}

	pool.Start()
	for _, p := range portfolios {
		if err := pool.Submit(ctx, p); err != nil {
			pool.Stop()
			return results, fmt.Errorf("submit %s: %w", p.Name, err)
		}
	}
	if err := pool.Stop(); err != nil {
		return results, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return results, errors.Join(errs...)
}

func batchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Compare every portfolio of a portfolio file in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("portfolio")
			out, _ := cmd.Flags().GetString("out")
			workers, _ := cmd.Flags().GetInt("workers")
			formatName, _ := cmd.Flags().GetString("format")

			pf, err := loadPortfolios(path)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("format") && pf.Format != "" {
				formatName = pf.Format
			}
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}

			r, err := a.resolver()
			if err != nil {
				return err
			}

			results, err := runBatch(cmd.Context(), pf.Portfolios, out, format, a.cfg.CSV(), r, workers, a.logger)
			for _, res := range results {
				status := "ok"
				if res.Err != nil {
					status = "FAILED"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-6s %d files\n", res.Name, status, len(res.Paths))
			}
			return err
		},
	}
	cmd.Flags().String("portfolio", "", "Portfolio file (yaml or json)")
	cmd.Flags().String("out", "out", "Output directory; each portfolio gets a subdirectory")
	cmd.Flags().Int("workers", 4, "Portfolios compared in parallel")
	cmd.Flags().String("format", "csv", "Output format: csv, parquet or json")
	cmd.MarkFlagRequired("portfolio")
	return cmd
}
