package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func day(v string) time.Time {
	t, err := ParseDate(v)
	if err != nil {
		panic(err)
	}
	return t
}

func priceRecord(metal Metal, date string, benchmark, fx float64, status Status) PriceRecord {
	return PriceRecord{
		Metal:            metal,
		Date:             day(date),
		BenchmarkPrice:   decimal.NewFromFloat(benchmark),
		FXRate:           decimal.NewFromFloat(fx),
		TheoreticalPrice: decimal.NewFromFloat(benchmark * fx / 31.1035),
		Status:           status,
	}
}

func TestUpsertPriceRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	first := priceRecord(Gold, "2025-11-27", 2650, 7.25, StatusValid)
	require.NoError(t, store.UpsertPriceRecord(ctx, first))

	second := priceRecord(Gold, "2025-11-27", 2700, 7.30, StatusSuspiciousLBMA)
	second.LocalClosePrice = decimal.NewNullDecimal(decimal.NewFromInt(620))
	second.LocalAvailable = true
	second.ValidationNotes = "[LBMA] out of band"
	require.NoError(t, store.UpsertPriceRecord(ctx, second))

	records, err := store.ListRecentPriceRecords(ctx, Gold, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.True(t, got.BenchmarkPrice.Equal(decimal.NewFromInt(2700)))
	assert.True(t, got.FXRate.Equal(decimal.NewFromFloat(7.30)))
	assert.Equal(t, StatusSuspiciousLBMA, got.Status)
	assert.True(t, got.LocalAvailable)
	require.True(t, got.LocalClosePrice.Valid)
	assert.True(t, got.LocalClosePrice.Decimal.Equal(decimal.NewFromInt(620)))
	assert.Equal(t, "[LBMA] out of band", got.ValidationNotes)
	assert.Equal(t, day("2025-11-27"), got.Date)
}

func TestGetPriceRecordMissing(t *testing.T) {
	store := newMemoryStore(t)

	rec, err := store.GetPriceRecord(context.Background(), Silver, day("2025-01-02"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMetalTablesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	require.NoError(t, store.UpsertPriceRecord(ctx, priceRecord(Gold, "2025-11-27", 2650, 7.25, StatusValid)))
	require.NoError(t, store.UpsertPriceRecord(ctx, priceRecord(Silver, "2025-11-27", 31, 7.25, StatusValid)))

	gold, err := store.GetPriceRecord(ctx, Gold, day("2025-11-27"))
	require.NoError(t, err)
	require.NotNil(t, gold)
	assert.True(t, gold.BenchmarkPrice.Equal(decimal.NewFromInt(2650)))

	silver, err := store.GetPriceRecord(ctx, Silver, day("2025-11-27"))
	require.NoError(t, err)
	require.NotNil(t, silver)
	assert.Equal(t, Silver, silver.Metal)
	assert.True(t, silver.BenchmarkPrice.Equal(decimal.NewFromInt(31)))
}

func TestRecentValidBenchmarkPrices(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	seed := []PriceRecord{
		priceRecord(Gold, "2025-11-20", 100, 7.1, StatusValid),
		priceRecord(Gold, "2025-11-21", 101, 7.1, StatusSuspiciousLBMA),
		priceRecord(Gold, "2025-11-24", 102, 7.1, StatusValid),
		priceRecord(Gold, "2025-11-25", 103, 7.1, StatusValid),
		priceRecord(Gold, "2025-11-27", 104, 7.1, StatusValid),
	}
	for _, rec := range seed {
		require.NoError(t, store.UpsertPriceRecord(ctx, rec))
	}

	prices, err := store.RecentValidBenchmarkPrices(ctx, Gold, day("2025-11-27"), 2)
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices[0].Equal(decimal.NewFromInt(103)), "most recent first")
	assert.True(t, prices[1].Equal(decimal.NewFromInt(102)))

	prices, err = store.RecentValidBenchmarkPrices(ctx, Gold, day("2025-11-27"), 20)
	require.NoError(t, err)
	assert.Len(t, prices, 3, "suspicious rows and the target date are excluded")
}

func TestPreviousFXRate(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	rate, err := store.PreviousFXRate(ctx, Gold, day("2025-11-27"))
	require.NoError(t, err)
	assert.False(t, rate.Valid)

	require.NoError(t, store.UpsertPriceRecord(ctx, priceRecord(Gold, "2025-11-25", 2600, 7.20, StatusValid)))
	require.NoError(t, store.UpsertPriceRecord(ctx, priceRecord(Gold, "2025-11-27", 2650, 7.25, StatusValid)))

	rate, err = store.PreviousFXRate(ctx, Gold, day("2025-11-27"))
	require.NoError(t, err)
	require.True(t, rate.Valid)
	assert.True(t, rate.Decimal.Equal(decimal.NewFromFloat(7.20)))
}

func TestListPriceRecordsBetween(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	for _, d := range []string{"2025-11-24", "2025-11-25", "2025-11-26", "2025-11-27"} {
		require.NoError(t, store.UpsertPriceRecord(ctx, priceRecord(Gold, d, 2600, 7.2, StatusValid)))
	}

	records, err := store.ListPriceRecordsBetween(ctx, Gold, day("2025-11-25"), day("2025-11-26"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, day("2025-11-25"), records[0].Date)
	assert.Equal(t, day("2025-11-26"), records[1].Date)
}

func TestExchangeRateUpsertAndList(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	partial := ExchangeRateRecord{
		Date:   day("2025-11-27"),
		USDCNY: decimal.NewNullDecimal(decimal.RequireFromString("7.0833")),
		Source: "chinamoney",
		Status: StatusPartial,
	}
	require.NoError(t, store.UpsertExchangeRate(ctx, partial))

	full := partial
	full.JPYCNY = decimal.NewNullDecimal(decimal.RequireFromString("4.5512"))
	full.EURCNY = decimal.NewNullDecimal(decimal.RequireFromString("8.2011"))
	full.Status = StatusValid
	require.NoError(t, store.UpsertExchangeRate(ctx, full))

	got, err := store.GetExchangeRate(ctx, day("2025-11-27"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusValid, got.Status)
	assert.True(t, got.JPYCNY.Valid)
	assert.True(t, got.EURCNY.Decimal.Equal(decimal.RequireFromString("8.2011")))

	missing, err := store.GetExchangeRate(ctx, day("2025-11-28"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := store.ListRecentExchangeRates(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSnapshotWritesDatabaseCopy(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	require.NoError(t, store.UpsertPriceRecord(ctx, priceRecord(Gold, "2025-11-27", 2650, 7.25, StatusValid)))

	dir := filepath.Join(t.TempDir(), "backups")
	path, err := store.Snapshot(ctx, dir, "gold_tracker_20251127_150000")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "gold_tracker_20251127_150000.db"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	copyStore, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)
	defer copyStore.Close()
	rec, err := copyStore.GetPriceRecord(ctx, Gold, day("2025-11-27"))
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestNilStoreNotConfigured(t *testing.T) {
	var store *SQLiteStore
	_, err := store.ListRecentPriceRecords(context.Background(), Gold, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)

	var pg *Store
	_, err = pg.ListRecentExchangeRates(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
