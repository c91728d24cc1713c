package collector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-tracker/internal/fetcher"
	"gold-tracker/internal/storage"
	"gold-tracker/internal/validator"
)

// Source tags recorded on a MetalResult.
const (
	FXSourceDirect         = "direct"
	FXSourceFallback       = "fallback-previous-day"
	LocalSourceUnavailable = "unavailable"
)

// Store is the persistence surface the collector writes through.
type Store interface {
	storage.PriceStore
	storage.ExchangeRateStore
}

// MetalSources wires the adapters used for one metal.
type MetalSources struct {
	Benchmark     fetcher.BenchmarkFetcher
	BenchmarkName string
	Local         fetcher.LocalPriceFetcher
	LocalName     string
}

// Options configures a Collector.
type Options struct {
	Store     Store
	Validator *validator.Validator
	Metals    map[storage.Metal]MetalSources
	FX        fetcher.FXFetcher
	FXName    string
	MultiFX   fetcher.MultiFXFetcher
	Pairs     []fetcher.Pair
	// AdvisoryLocks enables cross-process locking when the store supports it.
	AdvisoryLocks bool
	Now           func() time.Time
}

// MetalResult is the outcome of one metal collection.
type MetalResult struct {
	Metal           storage.Metal
	Date            time.Time
	Record          *storage.PriceRecord
	BenchmarkSource string
	FXSource        string
	LocalSource     string
	Validation      *validator.Result
	Warnings        []*Error
	Err             *Error
}

// Success reports whether the record was collected and persisted.
func (r MetalResult) Success() bool { return r.Err == nil && r.Record != nil }

// FXResult is the outcome of one FX collection.
type FXResult struct {
	Date    time.Time
	Record  *storage.ExchangeRateRecord
	Missing []fetcher.Pair
	Errors  []string
	Err     *Error
}

// Success reports whether the record was collected and persisted.
func (r FXResult) Success() bool { return r.Err == nil && r.Record != nil }

// Collector orchestrates source adapters, validation and persistence.
type Collector struct {
	store     Store
	validator *validator.Validator
	metals    map[storage.Metal]MetalSources
	fx        fetcher.FXFetcher
	fxName    string
	multiFX   fetcher.MultiFXFetcher
	pairs     []fetcher.Pair
	locker    storage.AdvisoryLocker
	keys      keyedMutex
	now       func() time.Time
	logger    zerolog.Logger
}

// New constructs a Collector.
func New(opts Options, logger zerolog.Logger) *Collector {
	var locker storage.AdvisoryLocker
	if opts.AdvisoryLocks {
		if l, ok := opts.Store.(storage.AdvisoryLocker); ok {
			locker = l
		}
	}
	pairs := opts.Pairs
	if len(pairs) == 0 {
		pairs = fetcher.DefaultPairs
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	v := opts.Validator
	if v == nil && opts.Store != nil {
		v = validator.New(opts.Store, nil, logger)
	}
	fxName := opts.FXName
	if fxName == "" {
		fxName = "fx"
	}

	return &Collector{
		store:     opts.Store,
		validator: v,
		metals:    opts.Metals,
		fx:        opts.FX,
		fxName:    fxName,
		multiFX:   opts.MultiFX,
		pairs:     pairs,
		locker:    locker,
		keys:      keyedMutex{locks: make(map[string]*refMutex)},
		now:       now,
		logger:    logger.With().Str("component", "collector").Logger(),
	}
}

// Metals returns the configured metals in collection order.
func (c *Collector) Metals() []storage.Metal {
	out := make([]storage.Metal, 0, len(c.metals))
	for _, m := range storage.Metals {
		if _, ok := c.metals[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// CollectMetal fetches, validates and upserts one metal for date.
func (c *Collector) CollectMetal(ctx context.Context, metal storage.Metal, date time.Time) (res MetalResult) {
	date = storage.DateOf(date)
	res = MetalResult{Metal: metal, Date: date}
	defer func() {
		if r := recover(); r != nil {
			res.Err = newError(KindUnexpected, "", fmt.Errorf("panic: %v", r))
		}
		c.logMetal(res)
	}()

	src, ok := c.metals[metal]
	if !ok || src.Benchmark == nil {
		res.Err = newError(KindUnexpected, "", fmt.Errorf("metal %s is not configured", metal))
		return res
	}
	if c.store == nil {
		res.Err = newError(KindUnexpected, "", storage.ErrNotConfigured)
		return res
	}

	unlock, err := c.acquire(ctx, metal.Table(), date)
	if err != nil {
		res.Err = newError(KindUnexpected, "", err)
		return res
	}
	defer unlock()

	c.collectMetal(ctx, src, &res)
	return res
}

func (c *Collector) collectMetal(ctx context.Context, src MetalSources, res *MetalResult) {
	metal, date := res.Metal, res.Date

	bq := src.Benchmark.FetchBenchmark(ctx, date)
	if !bq.OK() {
		res.Err = newError(KindMandatorySource, src.BenchmarkName, bq.Err)
		return
	}
	res.BenchmarkSource = src.BenchmarkName

	rate, fxErr := c.resolveFX(ctx, metal, date, res)
	if fxErr != nil {
		res.Err = fxErr
		return
	}

	local := decimal.NullDecimal{}
	res.LocalSource = LocalSourceUnavailable
	if src.Local != nil {
		lq := src.Local.FetchLocal(ctx, date)
		switch {
		case !lq.OK():
			res.Warnings = append(res.Warnings, newError(KindOptionalSource, src.LocalName, lq.Err))
		case lq.Available && lq.Price.Valid:
			local = lq.Price
			res.LocalSource = src.LocalName
		}
	}

	validation, err := c.validator.Validate(ctx, validator.Input{
		Metal:     metal,
		Date:      date,
		Benchmark: bq.Price,
		FXRate:    rate,
		Local:     local,
	})
	if err != nil {
		res.Err = newError(KindUnexpected, "", err)
		return
	}
	res.Validation = &validation

	rec := storage.PriceRecord{
		Metal:            metal,
		Date:             date,
		BenchmarkPrice:   bq.Price,
		LocalClosePrice:  local,
		FXRate:           rate,
		TheoreticalPrice: validation.Theoretical,
		LocalAvailable:   local.Valid,
		Status:           validation.Status,
		ValidationNotes:  validation.Notes,
		CreatedAt:        c.now().UTC(),
	}
	res.Record = &rec

	if err := c.store.UpsertPriceRecord(ctx, rec); err != nil {
		res.Err = newError(KindPersistence, "", fmt.Errorf("upsert %s record: %w", metal, err))
	}
}

// resolveFX returns the direct rate or the latest stored rate before date.
func (c *Collector) resolveFX(ctx context.Context, metal storage.Metal, date time.Time, res *MetalResult) (decimal.Decimal, *Error) {
	var fetchErr error
	if c.fx == nil {
		fetchErr = errors.New("no fx source configured")
	} else {
		q := c.fx.FetchFX(ctx, date)
		if q.OK() {
			res.FXSource = FXSourceDirect
			return q.Rate, nil
		}
		fetchErr = q.Err
	}

	prev, err := c.store.PreviousFXRate(ctx, metal, date)
	if err != nil {
		return decimal.Zero, newError(KindUnexpected, "", fmt.Errorf("load previous fx rate: %w", err))
	}
	if !prev.Valid {
		return decimal.Zero, newError(KindFallbackExhausted, c.fxName,
			fmt.Errorf("fx unavailable (%v) and no earlier rate stored", fetchErr))
	}

	res.FXSource = FXSourceFallback
	res.Warnings = append(res.Warnings, newError(KindOptionalSource, c.fxName, fetchErr))
	return prev.Decimal, nil
}

// CollectFX fetches every configured pair and upserts the exchange rate record.
func (c *Collector) CollectFX(ctx context.Context, date time.Time) (res FXResult) {
	date = storage.DateOf(date)
	res = FXResult{Date: date}
	defer func() {
		if r := recover(); r != nil {
			res.Err = newError(KindUnexpected, "", fmt.Errorf("panic: %v", r))
		}
		c.logFX(res)
	}()

	if c.multiFX == nil {
		res.Err = newError(KindUnexpected, "", errors.New("no multi-pair fx source configured"))
		return res
	}
	if c.store == nil {
		res.Err = newError(KindUnexpected, "", storage.ErrNotConfigured)
		return res
	}

	unlock, err := c.acquire(ctx, "exchange_rates", date)
	if err != nil {
		res.Err = newError(KindUnexpected, "", err)
		return res
	}
	defer unlock()

	q := c.multiFX.FetchMultiFX(ctx, date, c.pairs)
	res.Errors = q.Errors
	for _, p := range c.pairs {
		if _, ok := q.Rates[p]; !ok {
			res.Missing = append(res.Missing, p)
		}
	}
	if len(res.Missing) == len(c.pairs) {
		res.Err = newError(KindMandatorySource, q.Source, fmt.Errorf("all %d pairs failed", len(c.pairs)))
		return res
	}

	status := storage.StatusValid
	if len(res.Missing) > 0 {
		status = storage.StatusPartial
	}
	rec := storage.ExchangeRateRecord{
		Date:      date,
		USDCNY:    nullRate(q.Rates, fetcher.PairUSDCNY),
		JPYCNY:    nullRate(q.Rates, fetcher.PairJPYCNY),
		EURCNY:    nullRate(q.Rates, fetcher.PairEURCNY),
		Source:    q.Source,
		Status:    status,
		CreatedAt: c.now().UTC(),
	}
	res.Record = &rec

	if err := c.store.UpsertExchangeRate(ctx, rec); err != nil {
		res.Err = newError(KindPersistence, "", fmt.Errorf("upsert exchange rate: %w", err))
	}
	return res
}

func nullRate(rates map[fetcher.Pair]decimal.Decimal, p fetcher.Pair) decimal.NullDecimal {
	if v, ok := rates[p]; ok {
		return decimal.NewNullDecimal(v)
	}
	return decimal.NullDecimal{}
}

// acquire serialises writers of one (table, date) key, in process and, when
// enabled, across processes through a Postgres advisory lock.
func (c *Collector) acquire(ctx context.Context, table string, date time.Time) (func(), error) {
	key := table + ":" + storage.FormatDate(date)
	release := c.keys.Lock(key)
	if c.locker == nil {
		return release, nil
	}

	unlock, acquired, err := c.locker.TryAdvisoryLock(ctx, lockKey(key))
	if err != nil {
		release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		release()
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}
	return func() {
		unlock()
		release()
	}, nil
}

func lockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func (c *Collector) logMetal(res MetalResult) {
	if res.Err != nil {
		c.logger.Error().Err(res.Err).
			Str("metal", string(res.Metal)).
			Str("date", storage.FormatDate(res.Date)).
			Str("kind", string(res.Err.Kind)).
			Msg("metal collection failed")
		return
	}
	evt := c.logger.Info().
		Str("metal", string(res.Metal)).
		Str("date", storage.FormatDate(res.Date)).
		Str("benchmark_source", res.BenchmarkSource).
		Str("fx_source", res.FXSource).
		Str("local_source", res.LocalSource)
	if res.Record != nil {
		evt = evt.Str("status", string(res.Record.Status)).
			Str("theoretical", res.Record.TheoreticalPrice.StringFixed(2))
	}
	evt.Int("warnings", len(res.Warnings)).Msg("metal record stored")
}

func (c *Collector) logFX(res FXResult) {
	if res.Err != nil {
		c.logger.Error().Err(res.Err).
			Str("date", storage.FormatDate(res.Date)).
			Strs("errors", res.Errors).
			Msg("fx collection failed")
		return
	}
	c.logger.Info().
		Str("date", storage.FormatDate(res.Date)).
		Str("status", string(res.Record.Status)).
		Int("missing", len(res.Missing)).
		Msg("exchange rates stored")
}

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
