package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pair names a CNY central-parity currency pair as quoted by CFETS.
type Pair string

const (
	PairUSDCNY Pair = "USD/CNY"
	PairJPYCNY Pair = "100JPY/CNY"
	PairEURCNY Pair = "EUR/CNY"
)

// DefaultPairs are the pairs collected by the FX task.
var DefaultPairs = []Pair{PairUSDCNY, PairJPYCNY, PairEURCNY}

// ParsePair accepts a configured pair name.
func ParsePair(v string) (Pair, error) {
	for _, p := range DefaultPairs {
		if strings.EqualFold(string(p), strings.TrimSpace(v)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported currency pair %q", v)
}

// Key returns the storage column name for the pair ("100JPY/CNY" maps to jpy_cny).
func (p Pair) Key() string {
	if p == PairJPYCNY {
		return "jpy_cny"
	}
	return strings.ToLower(strings.ReplaceAll(string(p), "/", "_"))
}

// BenchmarkQuote is the outcome of a benchmark fetch. Err is nil on success.
type BenchmarkQuote struct {
	Date  time.Time
	Price decimal.Decimal
	Err   error
}

// OK reports whether the fetch produced a price.
func (q BenchmarkQuote) OK() bool { return q.Err == nil }

// LocalQuote is the outcome of a local exchange fetch. A nil Err with
// Available false means the market did not trade that day.
type LocalQuote struct {
	Date      time.Time
	Price     decimal.NullDecimal
	Available bool
	Err       error
}

// OK reports whether the fetch completed, traded or not.
func (q LocalQuote) OK() bool { return q.Err == nil }

// FXQuote is the outcome of a single-pair FX fetch.
type FXQuote struct {
	Date time.Time
	Rate decimal.Decimal
	Err  error
}

// OK reports whether the fetch produced a rate.
func (q FXQuote) OK() bool { return q.Err == nil }

// MultiFXQuote is the outcome of a multi-pair FX fetch. Failed pairs are
// absent from Rates and described in Errors.
type MultiFXQuote struct {
	Date   time.Time
	Rates  map[Pair]decimal.Decimal
	Source string
	Errors []string
}

// OK reports whether at least one pair was collected.
func (q MultiFXQuote) OK() bool { return len(q.Rates) > 0 }

// BenchmarkFetcher retrieves the international benchmark price (USD/oz).
type BenchmarkFetcher interface {
	FetchBenchmark(ctx context.Context, date time.Time) BenchmarkQuote
}

// LocalPriceFetcher retrieves the domestic exchange close price (CNY/g).
type LocalPriceFetcher interface {
	FetchLocal(ctx context.Context, date time.Time) LocalQuote
}

// FXFetcher retrieves the USD/CNY central parity.
type FXFetcher interface {
	FetchFX(ctx context.Context, date time.Time) FXQuote
}

// MultiFXFetcher retrieves several central-parity pairs at once.
type MultiFXFetcher interface {
	FetchMultiFX(ctx context.Context, date time.Time, pairs []Pair) MultiFXQuote
}

const dateLayout = "2006-01-02"
