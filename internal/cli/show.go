package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gold-tracker/internal/app"
	"gold-tracker/internal/storage"
)

var (
	showLimit int
	showMetal string
	showFX    bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price records or exchange rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		metal, err := storage.ParseMetal(showMetal)
		if err != nil {
			return err
		}

		opts := app.ShowOptions{
			Metal: metal,
			Limit: showLimit,
			FX:    showFX,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
	showCmd.Flags().StringVar(&showMetal, "metal", string(storage.Gold), "Metal to display (gold|silver)")
	showCmd.Flags().BoolVar(&showFX, "fx", false, "Display exchange rates instead of prices")
}
