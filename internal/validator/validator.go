package validator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-tracker/internal/storage"
)

// TroyOunceGrams converts USD/oz into a per-gram price.
var TroyOunceGrams = decimal.RequireFromString("31.1035")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Check names, in evaluation order.
const (
	CheckBenchmark = "LBMA"
	CheckFX        = "FX"
	CheckLocal     = "SGE"
)

// History is the read-only view of stored records used by the checks.
type History interface {
	RecentValidBenchmarkPrices(ctx context.Context, metal storage.Metal, before time.Time, window int) ([]decimal.Decimal, error)
	PreviousFXRate(ctx context.Context, metal storage.Metal, before time.Time) (decimal.NullDecimal, error)
}

// Input carries the values collected for one metal and date.
type Input struct {
	Metal     storage.Metal
	Date      time.Time
	Benchmark decimal.Decimal
	FXRate    decimal.Decimal
	Local     decimal.NullDecimal
}

// Check is the outcome of one rule.
type Check struct {
	Name    string
	Valid   bool
	Skipped bool
	Note    string
}

// Result is the classification of an Input.
type Result struct {
	Status      storage.Status
	Notes       string
	Theoretical decimal.Decimal
	Checks      []Check
}

// Validator runs the benchmark, FX and local exchange checks.
type Validator struct {
	history  History
	settings *SettingsHolder
	logger   zerolog.Logger
}

// New constructs a Validator reading history from h.
func New(h History, settings *SettingsHolder, logger zerolog.Logger) *Validator {
	if settings == nil {
		settings = NewSettingsHolder(DefaultSettings())
	}
	return &Validator{
		history:  h,
		settings: settings,
		logger:   logger.With().Str("component", "validator").Logger(),
	}
}

// TheoreticalPrice converts a USD/oz benchmark into CNY/g.
func TheoreticalPrice(benchmark, fx decimal.Decimal) decimal.Decimal {
	return benchmark.Mul(fx).Div(TroyOunceGrams)
}

// Validate classifies in. The error is non-nil only when history cannot be read.
func (v *Validator) Validate(ctx context.Context, in Input) (Result, error) {
	s := v.settings.Load()
	theoretical := TheoreticalPrice(in.Benchmark, in.FXRate)

	history, err := v.history.RecentValidBenchmarkPrices(ctx, in.Metal, in.Date, s.WindowDays)
	if err != nil {
		return Result{}, fmt.Errorf("load benchmark history: %w", err)
	}
	prevFX, err := v.history.PreviousFXRate(ctx, in.Metal, in.Date)
	if err != nil {
		return Result{}, fmt.Errorf("load previous fx rate: %w", err)
	}

	checks := []Check{
		checkBenchmark(in.Benchmark, history, s),
		checkFX(in.FXRate, prevFX, s),
		checkLocal(in.Local, theoretical, s),
	}

	res := Result{
		Status:      classify(checks),
		Theoretical: theoretical,
		Checks:      checks,
	}
	notes := make([]string, 0, len(checks))
	for _, c := range checks {
		notes = append(notes, fmt.Sprintf("[%s] %s", c.Name, c.Note))
	}
	res.Notes = strings.Join(notes, "; ")

	v.logger.Debug().
		Str("metal", string(in.Metal)).
		Str("date", storage.FormatDate(in.Date)).
		Str("status", string(res.Status)).
		Msg("validated")
	return res, nil
}

// classify returns valid or the status of the first failing check.
func classify(checks []Check) storage.Status {
	for _, c := range checks {
		if c.Valid {
			continue
		}
		switch c.Name {
		case CheckBenchmark:
			return storage.StatusSuspiciousLBMA
		case CheckFX:
			return storage.StatusSuspiciousFX
		case CheckLocal:
			return storage.StatusSuspiciousSGE
		}
	}
	return storage.StatusValid
}

func checkBenchmark(current decimal.Decimal, history []decimal.Decimal, s Settings) Check {
	c := Check{Name: CheckBenchmark}
	switch len(history) {
	case 0:
		c.Valid, c.Skipped = true, true
		c.Note = "first data point, check skipped"
		return c
	case 1:
		mean := history[0]
		band := mean.Mul(decimal.NewFromFloat(s.SingleSampleBand))
		lower, upper := mean.Sub(band), mean.Add(band)
		c.Valid = within(current, lower, upper)
		c.Note = fmt.Sprintf("single sample, ±%s%% band: [%s, %s], current=%s",
			decimal.NewFromFloat(s.SingleSampleBand).Mul(hundred).String(),
			lower.StringFixed(2), upper.StringFixed(2), current.StringFixed(2))
		return c
	}

	mean, stdev := meanStdev(history)
	k := decimal.NewFromFloat(s.SigmaThreshold)
	lower := mean.Sub(k.Mul(stdev))
	upper := mean.Add(k.Mul(stdev))
	c.Valid = within(current, lower, upper)

	sample := ""
	if len(history) < s.WindowDays {
		sample = fmt.Sprintf("sample smaller than window (%d/%d), ", len(history), s.WindowDays)
	}
	c.Note = fmt.Sprintf("%sμ=%s, σ=%s, range=[%s, %s], current=%s",
		sample, mean.StringFixed(2), stdev.StringFixed(2),
		lower.StringFixed(2), upper.StringFixed(2), current.StringFixed(2))
	return c
}

func checkFX(current decimal.Decimal, previous decimal.NullDecimal, s Settings) Check {
	c := Check{Name: CheckFX}
	if !previous.Valid || previous.Decimal.IsZero() {
		c.Valid, c.Skipped = true, true
		c.Note = "no previous rate, check skipped"
		return c
	}

	change := current.Sub(previous.Decimal).Div(previous.Decimal)
	limit := decimal.NewFromFloat(s.FXDailyChangeLimit)
	c.Valid = change.Abs().LessThanOrEqual(limit)

	sign := ""
	if !change.IsNegative() {
		sign = "+"
	}
	c.Note = fmt.Sprintf("previous=%s, current=%s, change=%s%s%%, limit=±%s%%",
		previous.Decimal.StringFixed(4), current.StringFixed(4),
		sign, change.Mul(hundred).StringFixed(2), limit.Mul(hundred).String())
	return c
}

func checkLocal(local decimal.NullDecimal, theoretical decimal.Decimal, s Settings) Check {
	c := Check{Name: CheckLocal}
	if !local.Valid {
		c.Valid, c.Skipped = true, true
		c.Note = "no local trade, check skipped"
		return c
	}

	lower := theoretical.Mul(decimal.NewFromFloat(s.LocalRatioLow))
	upper := theoretical.Mul(decimal.NewFromFloat(s.LocalRatioHigh))
	c.Valid = within(local.Decimal, lower, upper)

	ratio := decimal.Zero
	if theoretical.IsPositive() {
		ratio = local.Decimal.Div(theoretical).Mul(hundred)
	}
	c.Note = fmt.Sprintf("theoretical=%s, band=[%s, %s], actual=%s, ratio=%s%%",
		theoretical.StringFixed(2), lower.StringFixed(2), upper.StringFixed(2),
		local.Decimal.StringFixed(2), ratio.StringFixed(1))
	return c
}

func within(v, lower, upper decimal.Decimal) bool {
	return v.GreaterThanOrEqual(lower) && v.LessThanOrEqual(upper)
}

// meanStdev returns the mean and sample standard deviation (n-1) of values, len >= 2.
func meanStdev(values []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	n := decimal.NewFromInt(int64(len(values)))
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	mean := sum.Div(n)

	sq := decimal.Zero
	for _, v := range values {
		d := v.Sub(mean)
		sq = sq.Add(d.Mul(d))
	}
	variance := sq.Div(n.Sub(one))
	if variance.IsZero() {
		return mean, decimal.Zero
	}
	return mean, decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}
