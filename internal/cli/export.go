package cli

import (
	"github.com/spf13/cobra"

	"gold-tracker/internal/app"
	"gold-tracker/internal/storage"
)

var (
	exportMetal     string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export price history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		metal, err := storage.ParseMetal(exportMetal)
		if err != nil {
			return err
		}

		opts := app.ExportOptions{
			Metal:     metal,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := parseDateFlag("--from", exportFrom)
			if err != nil {
				return err
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := parseDateFlag("--to", exportTo)
			if err != nil {
				return err
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportMetal, "metal", string(storage.Gold), "Metal to export (gold|silver)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
