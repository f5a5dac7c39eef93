package main

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxinsight/internal/export"
	"github.com/drfirst/go-rxinsight/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxinsight/internal/service"
)

func queryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run the brand vs generic pipeline against the fact database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cip, _ := cmd.Flags().GetStringSlice("cip")
			gen, _ := cmd.Flags().GetStringSlice("gen")
			out, _ := cmd.Flags().GetString("out")
			formatName, _ := cmd.Flags().GetString("format")

			if !a.cfg.HasDatabase() {
				return fmt.Errorf("DATABASE_URL is required")
			}
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			r, err := a.resolver()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer pool.Close()

			table := postgres.TableRef{Schema: a.cfg.FactSchema, Table: a.cfg.FactTable}
			repo := postgres.NewFactRepository(pool, table, nil, a.logger)
			analyzer := service.NewAnalyzer(service.Config{}, r, a.logger, service.WithFacts(repo))

			res, err := analyzer.Compute(ctx, cip, gen)
			if err != nil {
				return err
			}
			if out == "-" {
				return export.WriteJSON(cmd.OutOrStdout(), res)
			}
			paths, err := export.WriteComparison(out, format, res.Metrics)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", strings.Join(paths, ", "))
			return nil
		},
	}
	cmd.Flags().StringSlice("cip", nil, "Brand CIP13 codes (repeat or comma-separate)")
	cmd.Flags().StringSlice("gen", nil, "Generic GEN_NUM group codes (repeat or comma-separate)")
	cmd.Flags().String("out", "-", "Output directory, - prints the full payload as JSON")
	cmd.Flags().String("format", "csv", "Output format when --out is a directory: csv, parquet or json")
	cmd.MarkFlagRequired("cip")
	cmd.MarkFlagRequired("gen")
	return cmd
}
