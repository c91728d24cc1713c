package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// PriceStore persists daily metal price records.
type PriceStore interface {
	UpsertPriceRecord(ctx context.Context, rec PriceRecord) error
	// GetPriceRecord returns nil without error when no row exists for the date.
	GetPriceRecord(ctx context.Context, metal Metal, date time.Time) (*PriceRecord, error)
	ListRecentPriceRecords(ctx context.Context, metal Metal, limit int) ([]PriceRecord, error)
	// ListPriceRecordsBetween returns records with from <= date <= to in ascending order.
	ListPriceRecordsBetween(ctx context.Context, metal Metal, from, to time.Time) ([]PriceRecord, error)
	// RecentValidBenchmarkPrices returns up to window benchmark prices of valid
	// records dated strictly before the given date, most recent first.
	RecentValidBenchmarkPrices(ctx context.Context, metal Metal, before time.Time, window int) ([]decimal.Decimal, error)
	// PreviousFXRate returns the latest stored FX rate dated strictly before the given date.
	PreviousFXRate(ctx context.Context, metal Metal, before time.Time) (decimal.NullDecimal, error)
}

// ExchangeRateStore persists daily central-parity rates.
type ExchangeRateStore interface {
	UpsertExchangeRate(ctx context.Context, rec ExchangeRateRecord) error
	GetExchangeRate(ctx context.Context, date time.Time) (*ExchangeRateRecord, error)
	ListRecentExchangeRates(ctx context.Context, limit int) ([]ExchangeRateRecord, error)
}

// Gateway is the full persistence surface with an explicit lifecycle.
type Gateway interface {
	PriceStore
	ExchangeRateStore
	Init(ctx context.Context) error
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Snapshotter writes a point-in-time copy of the store into dir and returns its path.
type Snapshotter interface {
	Snapshot(ctx context.Context, dir, stem string) (string, error)
}
