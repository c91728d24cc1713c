package cli

import (
	"github.com/spf13/cobra"

	"gold-tracker/internal/app"
	"gold-tracker/internal/storage"
)

var (
	summaryMetal     string
	summaryDate      string
	summaryIntegrity int
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the stored record for a date and a data integrity report",
	RunE: func(cmd *cobra.Command, args []string) error {
		metal, err := storage.ParseMetal(summaryMetal)
		if err != nil {
			return err
		}

		opts := app.SummaryOptions{Metal: metal, Integrity: summaryIntegrity}
		if summaryDate != "" {
			date, err := parseDateFlag("--date", summaryDate)
			if err != nil {
				return err
			}
			opts.Date = date
		}

		return getApp().Summary(cmd.Context(), opts)
	},
}

func init() {
	summaryCmd.Flags().StringVar(&summaryMetal, "metal", string(storage.Gold), "Metal to summarise (gold|silver)")
	summaryCmd.Flags().StringVarP(&summaryDate, "date", "d", "", "Date (YYYY-MM-DD), defaults to today")
	summaryCmd.Flags().IntVar(&summaryIntegrity, "integrity", 30, "Records to include in the integrity report (0 disables)")
}
