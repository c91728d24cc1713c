package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every aligned interval.
type TickFunc func(ctx context.Context, at time.Time) error

// LoopOptions tune the serve loop.
type LoopOptions struct {
	Interval time.Duration
	// Offset shifts ticks from local midnight, e.g. 15h30m for an afternoon run.
	Offset       time.Duration
	StartupDelay time.Duration
	Location     *time.Location
}

// Loop drives aligned execution of collection runs.
type Loop struct {
	opts   LoopOptions
	logger zerolog.Logger
}

// NewLoop constructs a Loop instance.
func NewLoop(opts LoopOptions, logger zerolog.Logger) (*Loop, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("loop interval must be positive")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Loop{opts: opts, logger: logger.With().Str("component", "loop").Logger()}, nil
}

// Run blocks, invoking the tick function at each aligned interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, tick TickFunc) error {
	if l.opts.StartupDelay > 0 {
		timer := time.NewTimer(l.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := l.nextTick(time.Now())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = l.nextTick(time.Now())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		l.logger.Info().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		l.logger.Info().Time("at", next).Msg("executing scheduled tick")
		if err := tick(ctx, next); err != nil {
			l.logger.Error().Err(err).Time("at", next).Msg("tick execution failed")
		}

		next = next.Add(l.opts.Interval)
	}
}

// nextTick returns the first aligned instant strictly after now. Ticks are
// anchored at local midnight plus Offset.
func (l *Loop) nextTick(now time.Time) time.Time {
	local := now.In(l.opts.Location)
	y, m, d := local.Date()
	anchor := time.Date(y, m, d, 0, 0, 0, 0, l.opts.Location).Add(l.opts.Offset)

	if anchor.After(now) {
		for {
			prev := anchor.Add(-l.opts.Interval)
			if !prev.After(now) {
				return anchor
			}
			anchor = prev
		}
	}
	steps := now.Sub(anchor)/l.opts.Interval + 1
	return anchor.Add(steps * l.opts.Interval)
}
