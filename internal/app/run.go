package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"gold-tracker/internal/config"
	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/validator"
)

// RunTask executes one task and prints its result.
func (a *App) RunTask(ctx context.Context, opts TaskOptions) (scheduler.TaskResult, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return scheduler.TaskResult{}, err
	}
	defer closeStore()

	sched, closeRegistry, err := a.newScheduler(store, opts.Quiet)
	if err != nil {
		return scheduler.TaskResult{}, err
	}
	defer closeRegistry()

	res := sched.Execute(ctx, opts.Kind, opts.Date)
	PrintResult(a.Out, res, opts.Quiet)
	return res, nil
}

// Serve runs the configured tasks on an aligned interval until interrupted.
// SIGHUP reloads validation settings from the config file.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kinds := opts.Tasks
	if len(kinds) == 0 {
		parsed, err := parseKinds(a.Config.Serve.Tasks)
		if err != nil {
			return err
		}
		kinds = parsed
	}
	if len(kinds) == 0 {
		return errors.New("serve.tasks is empty")
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

	loop, err := scheduler.NewLoop(scheduler.LoopOptions{
		Interval:     a.Config.Serve.Interval,
		Offset:       a.Config.Serve.Offset,
		StartupDelay: a.Config.Serve.StartupDelay,
		Location:     a.Config.Location(),
	}, a.Logger)
	if err != nil {
		return err
	}

	go a.watchReload(ctx)

	tick := func(ctx context.Context, at time.Time) error {
		date := at.In(a.Config.Location())
		failed := 0
		for _, kind := range kinds {
			if res := sched.Execute(ctx, kind, date); !res.Success {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d tasks failed", failed, len(kinds))
		}
		return nil
	}

	if opts.RunNow {
		if err := tick(ctx, time.Now()); err != nil {
			a.Logger.Error().Err(err).Msg("initial run failed")
		}
	}

	a.Logger.Info().Strs("tasks", kindNames(kinds)).Msg("starting collection service")
	err = loop.Run(ctx, tick)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("collection service stopped")
	return nil
}

func (a *App) watchReload(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.ReloadSettings(); err != nil {
				a.Logger.Error().Err(err).Msg("reload validation settings failed")
			}
		}
	}
}

// ReloadSettings re-reads the config file and swaps the validation settings
// used by subsequent runs.
func (a *App) ReloadSettings() error {
	cfg, err := config.Load(a.ConfigPath)
	if err != nil {
		return err
	}
	a.settings.Store(validator.SettingsFromConfig(cfg.Validation))
	a.Logger.Info().Msg("validation settings reloaded")
	return nil
}

func parseKinds(values []string) ([]scheduler.Kind, error) {
	out := make([]scheduler.Kind, 0, len(values))
	for _, v := range values {
		k, err := scheduler.ParseKind(v)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func kindNames(kinds []scheduler.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// PrintResult writes a task result. Quiet mode prints a single status line.
func PrintResult(w io.Writer, res scheduler.TaskResult, quiet bool) {
	status := "SUCCESS"
	if !res.Success {
		status = "FAILED"
	}
	if quiet {
		fmt.Fprintf(w, "[%s] %s: %s\n", status, res.Kind, res.Message)
		return
	}

	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, "任务执行结果")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "状态:     %s\n", status)
	fmt.Fprintf(w, "任务类型: %s\n", res.Kind)
	fmt.Fprintf(w, "运行ID:   %s\n", res.RunID)
	fmt.Fprintf(w, "消息:     %s\n", res.Message)
	fmt.Fprintf(w, "开始时间: %s\n", res.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "结束时间: %s\n", res.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "耗时:     %.2f秒\n", res.Duration().Seconds())

	if len(res.Details) == 0 {
		return
	}
	keys := make([]string, 0, len(res.Details))
	for k := range res.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "详细信息:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, sanitizeInline(res.Details[k]))
	}
}
