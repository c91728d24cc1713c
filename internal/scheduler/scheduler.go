package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gold-tracker/internal/collector"
	"gold-tracker/internal/storage"
)

// Kind names a task entry point.
type Kind string

const (
	KindDaily  Kind = "daily"
	KindSilver Kind = "silver"
	KindFX     Kind = "fx"
	KindBackup Kind = "backup"
	KindAll    Kind = "all"
)

// Kinds lists every task kind accepted by Execute.
var Kinds = []Kind{KindDaily, KindSilver, KindFX, KindBackup, KindAll}

// ParseKind validates a task kind.
func ParseKind(v string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == v {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown task %q", v)
}

// TaskResult is the outcome of one task invocation.
type TaskResult struct {
	RunID      uuid.UUID
	Kind       Kind
	Success    bool
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
	Details    map[string]string
}

// Duration returns the wall time spent in the task.
func (r TaskResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Collector is the orchestration surface driven by the scheduler.
type Collector interface {
	CollectMetal(ctx context.Context, metal storage.Metal, date time.Time) collector.MetalResult
	CollectFX(ctx context.Context, date time.Time) collector.FXResult
}

// Backuper snapshots the store and returns the written path.
type Backuper interface {
	Backup(ctx context.Context) (string, error)
}

// Options tune task execution.
type Options struct {
	ProcessorTimeout time.Duration
	Location         *time.Location
	Now              func() time.Time
}

// Scheduler runs tasks inside a failure boundary and fans collection
// outcomes out to registered processors.
type Scheduler struct {
	collector Collector
	backup    Backuper
	registry  *Registry
	opts      Options
	logger    zerolog.Logger
}

// New constructs a Scheduler. A nil registry is replaced by an empty one.
func New(c Collector, b Backuper, registry *Registry, opts Options, logger zerolog.Logger) *Scheduler {
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.ProcessorTimeout <= 0 {
		opts.ProcessorTimeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		collector: c,
		backup:    b,
		registry:  registry,
		opts:      opts,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Registry exposes the post-processor registry.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Today returns the current business date.
func (s *Scheduler) Today() time.Time {
	return storage.DateOf(s.opts.Now().In(s.opts.Location))
}

// Execute dispatches to the entry point named by kind. A zero date means today.
func (s *Scheduler) Execute(ctx context.Context, kind Kind, date time.Time) TaskResult {
	switch kind {
	case KindDaily:
		return s.RunDaily(ctx, date)
	case KindSilver:
		return s.RunSilver(ctx, date)
	case KindFX:
		return s.RunFX(ctx, date)
	case KindBackup:
		return s.RunBackup(ctx)
	case KindAll:
		return s.RunAll(ctx, date)
	}
	res := s.begin(kind)
	res.Message = fmt.Sprintf("unknown task %q", kind)
	res.FinishedAt = s.opts.Now()
	s.logger.Error().Str("task", string(kind)).Msg(res.Message)
	return res
}

// RunDaily collects gold for date.
func (s *Scheduler) RunDaily(ctx context.Context, date time.Time) TaskResult {
	return s.runMetal(ctx, KindDaily, storage.Gold, date)
}

// RunSilver collects silver for date.
func (s *Scheduler) RunSilver(ctx context.Context, date time.Time) TaskResult {
	return s.runMetal(ctx, KindSilver, storage.Silver, date)
}

func (s *Scheduler) runMetal(ctx context.Context, kind Kind, metal storage.Metal, date time.Time) TaskResult {
	date = s.resolveDate(date)
	res := s.begin(kind)

	var out *collector.MetalResult
	s.guard(&res, func() {
		if s.collector == nil {
			res.Message = "collector not configured"
			return
		}
		mr := s.collector.CollectMetal(ctx, metal, date)
		out = &mr
		res.Success = mr.Success()
		res.Message, res.Details = describeMetal(mr)
	})
	res.FinishedAt = s.opts.Now()
	s.logResult(res)

	if out != nil {
		s.fanOut(ctx, Outcome{Task: res, Date: date, Metal: out})
	}
	return res
}

// RunFX collects the configured exchange rates for date.
func (s *Scheduler) RunFX(ctx context.Context, date time.Time) TaskResult {
	date = s.resolveDate(date)
	res := s.begin(KindFX)

	var out *collector.FXResult
	s.guard(&res, func() {
		if s.collector == nil {
			res.Message = "collector not configured"
			return
		}
		fr := s.collector.CollectFX(ctx, date)
		out = &fr
		res.Success = fr.Success()
		res.Message, res.Details = describeFX(fr)
	})
	res.FinishedAt = s.opts.Now()
	s.logResult(res)

	if out != nil {
		s.fanOut(ctx, Outcome{Task: res, Date: date, FX: out})
	}
	return res
}

// RunBackup snapshots the store.
func (s *Scheduler) RunBackup(ctx context.Context) TaskResult {
	res := s.begin(KindBackup)
	s.guard(&res, func() {
		if s.backup == nil {
			res.Message = "backup not configured"
			return
		}
		path, err := s.backup.Backup(ctx)
		if err != nil {
			res.Message = fmt.Sprintf("backup failed: %v", err)
			res.Details = map[string]string{"error": err.Error()}
			return
		}
		res.Success = true
		res.Message = "backup written: " + path
		res.Details = map[string]string{"backup_path": path}
	})
	res.FinishedAt = s.opts.Now()
	s.logResult(res)
	return res
}

// RunAll runs daily, silver, fx and backup in order. Each sub-task runs
// regardless of the others' outcome.
func (s *Scheduler) RunAll(ctx context.Context, date time.Time) TaskResult {
	date = s.resolveDate(date)
	subs := []TaskResult{
		s.RunDaily(ctx, date),
		s.RunSilver(ctx, date),
		s.RunFX(ctx, date),
		s.RunBackup(ctx),
	}

	res := TaskResult{
		RunID:      uuid.New(),
		Kind:       KindAll,
		Success:    true,
		StartedAt:  subs[0].StartedAt,
		FinishedAt: subs[len(subs)-1].FinishedAt,
		Details:    make(map[string]string, len(subs)),
	}
	parts := make([]string, 0, len(subs))
	for _, sub := range subs {
		res.Success = res.Success && sub.Success
		parts = append(parts, fmt.Sprintf("%s: %t", sub.Kind, sub.Success))
		res.Details[string(sub.Kind)] = sub.Message
	}
	res.Message = strings.Join(parts, ", ")
	s.logResult(res)
	return res
}

func (s *Scheduler) begin(kind Kind) TaskResult {
	return TaskResult{RunID: uuid.New(), Kind: kind, StartedAt: s.opts.Now()}
}

func (s *Scheduler) resolveDate(date time.Time) time.Time {
	if date.IsZero() {
		return s.Today()
	}
	return storage.DateOf(date)
}

// guard converts a panic inside fn into a failed result.
func (s *Scheduler) guard(res *TaskResult, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Message = fmt.Sprintf("%s task panicked: %v", res.Kind, r)
			res.Details = map[string]string{"exception": fmt.Sprint(r)}
		}
	}()
	fn()
}

// fanOut runs every processor of a registry snapshot in order. A failing,
// panicking or slow processor is logged and skipped.
func (s *Scheduler) fanOut(ctx context.Context, out Outcome) {
	for _, p := range s.registry.Snapshot() {
		if err := s.runProcessor(ctx, p, out); err != nil {
			s.logger.Warn().Err(err).
				Str("processor", p.Name()).
				Str("task", string(out.Task.Kind)).
				Msg("post-processor failed")
		}
	}
}

func (s *Scheduler) runProcessor(ctx context.Context, p Processor, out Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ProcessorTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- p.Process(ctx, out)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("processor timed out after %s: %w", s.opts.ProcessorTimeout, ctx.Err())
	}
}

func (s *Scheduler) logResult(res TaskResult) {
	evt := s.logger.Info()
	if !res.Success {
		evt = s.logger.Error()
	}
	evt.Str("run_id", res.RunID.String()).
		Str("task", string(res.Kind)).
		Bool("success", res.Success).
		Dur("duration", res.Duration()).
		Msg(res.Message)
}

func describeMetal(mr collector.MetalResult) (string, map[string]string) {
	details := map[string]string{
		"date":  storage.FormatDate(mr.Date),
		"metal": string(mr.Metal),
	}
	if mr.Err != nil {
		details["error"] = mr.Err.Error()
		details["kind"] = string(mr.Err.Kind)
	}
	if mr.Record != nil {
		details["validation_status"] = string(mr.Record.Status)
		details["benchmark_source"] = mr.BenchmarkSource
		details["local_source"] = mr.LocalSource
		details["fx_source"] = mr.FXSource
	}
	if len(mr.Warnings) > 0 {
		warnings := make([]string, len(mr.Warnings))
		for i, w := range mr.Warnings {
			warnings[i] = w.Error()
		}
		details["warnings"] = strings.Join(warnings, "; ")
	}

	if mr.Err != nil || mr.Record == nil {
		return fmt.Sprintf("%s collection failed: %v", mr.Metal, mr.Err), details
	}
	return fmt.Sprintf("%s collected: %s, status: %s", mr.Metal, details["date"], mr.Record.Status), details
}

func describeFX(fr collector.FXResult) (string, map[string]string) {
	details := map[string]string{"date": storage.FormatDate(fr.Date)}
	if len(fr.Missing) > 0 {
		missing := make([]string, len(fr.Missing))
		for i, p := range fr.Missing {
			missing[i] = string(p)
		}
		details["missing"] = strings.Join(missing, ",")
	}
	if len(fr.Errors) > 0 {
		details["errors"] = strings.Join(fr.Errors, "; ")
	}
	if fr.Err != nil {
		details["error"] = fr.Err.Error()
		details["kind"] = string(fr.Err.Kind)
	}
	if fr.Err != nil || fr.Record == nil {
		return fmt.Sprintf("fx collection failed: %v", fr.Err), details
	}
	details["source"] = fr.Record.Source
	details["status"] = string(fr.Record.Status)
	return fmt.Sprintf("fx collected: %s, status: %s", details["date"], fr.Record.Status), details
}
