package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gold-tracker/internal/app"
	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/storage"
)

var (
	taskDate  string
	taskQuiet bool
)

var taskCmd = &cobra.Command{
	Use:       "task <daily|silver|fx|backup|all>",
	Short:     "Run one collection task",
	Args:      cobra.ExactArgs(1),
	ValidArgs: kindArgs(),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := scheduler.ParseKind(args[0])
		if err != nil {
			return err
		}

		opts := app.TaskOptions{Kind: kind, Quiet: taskQuiet}
		if taskDate != "" {
			date, err := parseDateFlag("--date", taskDate)
			if err != nil {
				return err
			}
			opts.Date = date
		}

		res, err := getApp().RunTask(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("task %s failed", res.Kind)
		}
		return nil
	},
}

func init() {
	taskCmd.Flags().StringVarP(&taskDate, "date", "d", "", "Target date (YYYY-MM-DD), defaults to today")
	taskCmd.Flags().BoolVarP(&taskQuiet, "quiet", "q", false, "Print a single result line")
}

func kindArgs() []string {
	out := make([]string, len(scheduler.Kinds))
	for i, k := range scheduler.Kinds {
		out[i] = string(k)
	}
	return out
}

func parseDateFlag(name, v string) (time.Time, error) {
	date, err := storage.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s value: %w", name, err)
	}
	return date, nil
}
