package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/storage"
)

// Backfill runs collection tasks for every calendar day in [From, To].
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	start := storage.DateOf(opts.From)
	end := storage.DateOf(opts.To)
	if start.After(end) {
		return fmt.Errorf("回填范围为空，请检查 --from/--to: %w", errEmptyRange)
	}

	kinds := opts.Tasks
	if len(kinds) == 0 {
		kinds = []scheduler.Kind{scheduler.KindDaily}
	}
	for _, k := range kinds {
		if k == scheduler.KindBackup || k == scheduler.KindAll {
			return fmt.Errorf("task %q cannot be backfilled", k)
		}
	}

	if opts.DryRun {
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			fmt.Fprintf(a.Out, "%s %v\n", storage.FormatDate(day), kindNames(kinds))
		}
		a.Logger.Warn().Msg("回填 dry-run：不会请求数据源或写入数据库")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, closeRegistry, err := a.newScheduler(store, true)
	if err != nil {
		return err
	}
	defer closeRegistry()

	processed := 0
	failed := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for _, kind := range kinds {
			res := sched.Execute(ctx, kind, day)
			if !res.Success {
				failed++
				a.Logger.Error().
					Str("task", string(kind)).
					Time("date", day).
					Str("message", res.Message).
					Msg("回填失败")
				continue
			}
			processed++
		}
	}

	a.Logger.Info().
		Int("processed", processed).
		Int("failed", failed).
		Dur("span", end.Sub(start)+24*time.Hour).
		Msg("回填完成")
	if failed > 0 {
		return errors.New("部分日期回填失败，请检查日志")
	}
	return nil
}
