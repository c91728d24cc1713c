package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gold-tracker/internal/app"
	"gold-tracker/internal/scheduler"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillTasks  []string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Collect historical dates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parseDateFlag("--from", backfillFrom)
		if err != nil {
			return err
		}

		to, err := parseDateFlag("--to", backfillTo)
		if err != nil {
			return err
		}

		if from.After(to) {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.BackfillOptions{
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
		}
		for _, v := range backfillTasks {
			kind, err := scheduler.ParseKind(v)
			if err != nil {
				return err
			}
			opts.Tasks = append(opts.Tasks, kind)
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringSliceVar(&backfillTasks, "task", []string{string(scheduler.KindDaily)}, "Tasks to run per date (daily|silver|fx)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "List the dates without collecting")
}
