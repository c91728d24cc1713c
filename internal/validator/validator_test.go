package validator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-tracker/internal/storage"
)

type fakeHistory struct {
	benchmarks []decimal.Decimal
	prevFX     decimal.NullDecimal
	err        error

	gotWindow int
	gotBefore time.Time
}

func (f *fakeHistory) RecentValidBenchmarkPrices(_ context.Context, _ storage.Metal, before time.Time, window int) ([]decimal.Decimal, error) {
	f.gotWindow = window
	f.gotBefore = before
	if f.err != nil {
		return nil, f.err
	}
	if len(f.benchmarks) > window {
		return f.benchmarks[:window], nil
	}
	return f.benchmarks, nil
}

func (f *fakeHistory) PreviousFXRate(context.Context, storage.Metal, time.Time) (decimal.NullDecimal, error) {
	return f.prevFX, f.err
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decimals(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = d(v)
	}
	return out
}

var testDate = time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC)

func TestTheoreticalPrice(t *testing.T) {
	got := TheoreticalPrice(d("2650"), d("7.25"))
	assert.InDelta(t, 617.6958, got.InexactFloat64(), 0.0001)

	assert.True(t, TheoreticalPrice(d("18662.1"), d("1")).Equal(d("600")))
}

func TestBenchmarkColdStart(t *testing.T) {
	for _, v := range []string{"0.01", "2650", "1000000"} {
		c := checkBenchmark(d(v), nil, DefaultSettings())
		assert.True(t, c.Valid, v)
		assert.True(t, c.Skipped)
		assert.Contains(t, c.Note, "first data point")
	}
}

func TestBenchmarkSingleSampleBand(t *testing.T) {
	history := decimals("100")
	s := DefaultSettings()

	assert.True(t, checkBenchmark(d("109"), history, s).Valid)
	assert.True(t, checkBenchmark(d("110"), history, s).Valid, "band edge is inclusive")
	assert.True(t, checkBenchmark(d("90"), history, s).Valid)
	assert.False(t, checkBenchmark(d("111"), history, s).Valid)
	assert.False(t, checkBenchmark(d("89"), history, s).Valid)
}

func TestBenchmarkSigmaCollapse(t *testing.T) {
	history := decimals("100", "100", "100", "100", "100")
	s := DefaultSettings()

	assert.True(t, checkBenchmark(d("100"), history, s).Valid)
	assert.False(t, checkBenchmark(d("100.01"), history, s).Valid)
	assert.False(t, checkBenchmark(d("99.99"), history, s).Valid)
}

func TestBenchmarkSigmaBand(t *testing.T) {
	// mean 100, sample stdev 1.5811
	history := decimals("98", "99", "100", "101", "102")
	s := DefaultSettings()

	c := checkBenchmark(d("104.5"), history, s)
	assert.True(t, c.Valid)
	assert.Contains(t, c.Note, "sample smaller than window (5/20)")

	assert.False(t, checkBenchmark(d("104.8"), history, s).Valid)

	s.SigmaThreshold = 1
	assert.False(t, checkBenchmark(d("102"), history, s).Valid)
}

func TestBenchmarkFullWindowHasNoSampleNote(t *testing.T) {
	s := DefaultSettings()
	s.WindowDays = 2
	c := checkBenchmark(d("100"), decimals("99", "101"), s)
	assert.True(t, c.Valid)
	assert.NotContains(t, c.Note, "sample smaller")
}

func TestFXCheck(t *testing.T) {
	s := DefaultSettings()

	c := checkFX(d("7.25"), decimal.NullDecimal{}, s)
	assert.True(t, c.Valid)
	assert.True(t, c.Skipped)

	prev := decimal.NewNullDecimal(d("7.20"))
	assert.True(t, checkFX(d("7.344"), prev, s).Valid, "exactly +2%")
	assert.False(t, checkFX(d("7.35"), prev, s).Valid)
	assert.False(t, checkFX(d("7.00"), prev, s).Valid)

	c = checkFX(d("7.25"), prev, s)
	assert.Contains(t, c.Note, "change=+0.69%")
}

func TestLocalRatioBand(t *testing.T) {
	s := DefaultSettings()
	theoretical := d("600")

	c := checkLocal(decimal.NewNullDecimal(d("650")), theoretical, s)
	assert.True(t, c.Valid)
	assert.Contains(t, c.Note, "band=[570.00, 672.00]")
	assert.Contains(t, c.Note, "ratio=108.3%")

	assert.False(t, checkLocal(decimal.NewNullDecimal(d("700")), theoretical, s).Valid)
	assert.True(t, checkLocal(decimal.NewNullDecimal(d("570")), theoretical, s).Valid)
	assert.False(t, checkLocal(decimal.NewNullDecimal(d("569.99")), theoretical, s).Valid)

	skipped := checkLocal(decimal.NullDecimal{}, theoretical, s)
	assert.True(t, skipped.Valid)
	assert.True(t, skipped.Skipped)
}

func TestValidateEndToEndColdStart(t *testing.T) {
	v := New(&fakeHistory{}, nil, zerolog.Nop())

	res, err := v.Validate(context.Background(), Input{
		Metal:     storage.Gold,
		Date:      testDate,
		Benchmark: d("2650.0"),
		FXRate:    d("7.25"),
		Local:     decimal.NewNullDecimal(d("620.0")),
	})
	require.NoError(t, err)

	assert.Equal(t, storage.StatusValid, res.Status)
	assert.InDelta(t, 617.70, res.Theoretical.InexactFloat64(), 0.01)
	require.Len(t, res.Checks, 3)
	for _, c := range res.Checks {
		assert.True(t, c.Valid, c.Name)
	}
	assert.True(t, strings.HasPrefix(res.Notes, "[LBMA] "))
	assert.Contains(t, res.Notes, "; [FX] ")
	assert.Contains(t, res.Notes, "; [SGE] ")
}

func TestValidateStatusIsFirstFailure(t *testing.T) {
	h := &fakeHistory{
		benchmarks: decimals("100"),
		prevFX:     decimal.NewNullDecimal(d("7.20")),
	}
	v := New(h, nil, zerolog.Nop())

	// benchmark and fx both fail: LBMA wins
	res, err := v.Validate(context.Background(), Input{
		Metal: storage.Gold, Date: testDate,
		Benchmark: d("150"), FXRate: d("8.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSuspiciousLBMA, res.Status)
	assert.Contains(t, res.Notes, "[FX]", "notes keep every check")

	// only fx fails
	res, err = v.Validate(context.Background(), Input{
		Metal: storage.Gold, Date: testDate,
		Benchmark: d("100"), FXRate: d("8.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSuspiciousFX, res.Status)

	// only local fails
	res, err = v.Validate(context.Background(), Input{
		Metal: storage.Gold, Date: testDate,
		Benchmark: d("100"), FXRate: d("7.20"),
		Local: decimal.NewNullDecimal(d("1")),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSuspiciousSGE, res.Status)
}

func TestValidateUsesWindowAndDate(t *testing.T) {
	h := &fakeHistory{}
	s := DefaultSettings()
	s.WindowDays = 7
	v := New(h, NewSettingsHolder(s), zerolog.Nop())

	_, err := v.Validate(context.Background(), Input{Metal: storage.Silver, Date: testDate, Benchmark: d("31"), FXRate: d("7.1")})
	require.NoError(t, err)
	assert.Equal(t, 7, h.gotWindow)
	assert.Equal(t, testDate, h.gotBefore)
}

func TestValidateHistoryError(t *testing.T) {
	v := New(&fakeHistory{err: errors.New("db down")}, nil, zerolog.Nop())
	_, err := v.Validate(context.Background(), Input{Metal: storage.Gold, Date: testDate, Benchmark: d("1"), FXRate: d("1")})
	assert.Error(t, err)
}

func TestSettingsHolderConcurrentSwap(t *testing.T) {
	holder := NewSettingsHolder(DefaultSettings())
	v := New(&fakeHistory{benchmarks: decimals("100")}, holder, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s := DefaultSettings()
			s.SingleSampleBand = float64(i%2) * 0.5
			holder.Store(s)
		}(i)
		go func() {
			defer wg.Done()
			_, err := v.Validate(context.Background(), Input{Metal: storage.Gold, Date: testDate, Benchmark: d("100"), FXRate: d("7")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.LocalRatioHigh = 0.5
	assert.Error(t, s.Validate())

	s = DefaultSettings()
	s.WindowDays = 0
	assert.Error(t, s.Validate())
}
