package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxinsight/internal/domain/volume"
	"github.com/drfirst/go-rxinsight/internal/export"
	"github.com/drfirst/go-rxinsight/internal/service"
)

func normalizeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Resolve the codes of one wide extract to labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			keyName, _ := cmd.Flags().GetString("key")
			formatName, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")

			var key volume.ProductKey
			if keyName != "" {
				k, ok := volume.ParseProductKey(keyName)
				if !ok {
					return fmt.Errorf("unknown key %q (want %s or %s)", keyName, volume.KeyBrand, volume.KeyGeneric)
				}
				key = k
			}
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			if format == export.FormatParquet {
				return fmt.Errorf("normalize writes csv or json")
			}

			r, err := a.resolver()
			if err != nil {
				return err
			}
			t, err := service.NormalizeFile(file, key, a.cfg.CSV(), r)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if format == export.FormatJSON {
				return export.WriteJSON(w, t)
			}
			return export.WriteNormalizedCSV(w, t)
		},
	}
	cmd.Flags().String("file", "", "Wide extract to normalize")
	cmd.Flags().String("key", "", "Product key column (CIP13 or GEN_NUM); detected from the header when empty")
	cmd.Flags().String("format", "csv", "Output format: csv or json")
	cmd.Flags().String("out", "-", "Output file, - for stdout")
	cmd.MarkFlagRequired("file")
	return cmd
}
