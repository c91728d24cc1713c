package cli

import (
	"github.com/spf13/cobra"

	"gold-tracker/internal/app"
	"gold-tracker/internal/scheduler"
)

var (
	serveTasks  []string
	serveRunNow bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run collection tasks on a daily schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ServeOptions{RunNow: serveRunNow}
		for _, v := range serveTasks {
			kind, err := scheduler.ParseKind(v)
			if err != nil {
				return err
			}
			opts.Tasks = append(opts.Tasks, kind)
		}
		return getApp().Serve(cmd.Context(), opts)
	},
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveTasks, "task", nil, "Tasks to run on each tick (defaults to serve.tasks)")
	serveCmd.Flags().BoolVar(&serveRunNow, "now", false, "Run once immediately before waiting for the first tick")
}
