// Package processor holds post-processors that observe collection outcomes.
package processor

import (
	"context"

	"github.com/rs/zerolog"

	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/storage"
)

// Log writes each outcome to the structured log.
type Log struct {
	logger zerolog.Logger
}

// NewLog constructs the log processor.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "processor_log").Logger()}
}

// Name implements scheduler.Processor.
func (l *Log) Name() string { return "log" }

// Process implements scheduler.Processor.
func (l *Log) Process(_ context.Context, out scheduler.Outcome) error {
	evt := l.logger.Info()
	if !out.Task.Success {
		evt = l.logger.Error()
	}
	evt = evt.Str("run_id", out.Task.RunID.String()).
		Str("task", string(out.Task.Kind)).
		Str("date", storage.FormatDate(out.Date))

	switch {
	case out.Metal != nil && out.Metal.Success():
		m := out.Metal
		evt.Str("status", string(m.Record.Status)).
			Str("benchmark_source", m.BenchmarkSource).
			Str("local_source", m.LocalSource).
			Str("fx_source", m.FXSource).
			Int("warnings", len(m.Warnings)).
			Msg("collection succeeded")
	case out.FX != nil && out.FX.Success():
		f := out.FX
		evt.Str("status", string(f.Record.Status)).
			Str("source", f.Record.Source).
			Int("missing", len(f.Missing)).
			Msg("fx collection succeeded")
	default:
		evt.Str("error", out.Task.Details["error"]).
			Str("kind", out.Task.Details["kind"]).
			Msg(out.Task.Message)
	}
	return nil
}

var _ scheduler.Processor = (*Log)(nil)
