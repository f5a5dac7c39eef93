package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxinsight/internal/export"
	"github.com/drfirst/go-rxinsight/internal/service"
)

func compareCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare a brand extract with a generic extract and export the metrics tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			brand, _ := cmd.Flags().GetString("brand")
			generic, _ := cmd.Flags().GetString("generic")
			out, _ := cmd.Flags().GetString("out")
			formatName, _ := cmd.Flags().GetString("format")

			if brand == "" {
				brand = a.cfg.BrandPath()
			}
			if generic == "" {
				generic = a.cfg.GenericPath()
			}
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}

			r, err := a.resolver()
			if err != nil {
				return err
			}
			c, err := service.CompareFiles(brand, generic, a.cfg.CSV(), r)
			if err != nil {
				return err
			}

			if out == "-" {
				return export.WriteJSON(cmd.OutOrStdout(), c)
			}
			paths, err := export.WriteComparison(out, format, c)
			if err != nil {
				return err
			}
			brandTotal, genericTotal := c.Totals()
			fmt.Fprintf(cmd.OutOrStdout(), "compared %d segments: brand %d, generic %d boxes\n",
				len(c.Segments), brandTotal, genericTotal)
			for _, p := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "  wrote %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().String("brand", "", "Brand (CIP13) extract, defaults to BRAND_FILE")
	cmd.Flags().String("generic", "", "Generic (GEN_NUM) extract, defaults to GENERIC_FILE")
	cmd.Flags().String("out", ".", "Output directory, - prints the JSON bundle to stdout")
	cmd.Flags().String("format", "csv", "Output format: csv, parquet or json")
	return cmd
}
