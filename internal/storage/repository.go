package storage

import (
	"archive/zip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	createPriceTableSQL = `CREATE TABLE IF NOT EXISTS %s (
        date               DATE PRIMARY KEY,
        benchmark_price    NUMERIC(18,6) NOT NULL,
        local_close_price  NUMERIC(18,6),
        fx_rate            NUMERIC(18,6) NOT NULL,
        theoretical_price  NUMERIC(18,6) NOT NULL,
        local_available    BOOLEAN NOT NULL DEFAULT FALSE,
        status             TEXT NOT NULL,
        validation_notes   TEXT NOT NULL DEFAULT '',
        created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`

	createExchangeRateTableSQL = `CREATE TABLE IF NOT EXISTS daily_exchange_rates (
        date        DATE PRIMARY KEY,
        usd_cny     NUMERIC(18,6),
        jpy_cny     NUMERIC(18,6),
        eur_cny     NUMERIC(18,6),
        source      TEXT NOT NULL,
        status      TEXT NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`

	upsertPriceRecordSQL = `INSERT INTO %s (
        date,
        benchmark_price,
        local_close_price,
        fx_rate,
        theoretical_price,
        local_available,
        status,
        validation_notes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (date) DO UPDATE
    SET
        benchmark_price   = EXCLUDED.benchmark_price,
        local_close_price = EXCLUDED.local_close_price,
        fx_rate           = EXCLUDED.fx_rate,
        theoretical_price = EXCLUDED.theoretical_price,
        local_available   = EXCLUDED.local_available,
        status            = EXCLUDED.status,
        validation_notes  = EXCLUDED.validation_notes;`

	selectPriceColumns = `SELECT
        date,
        benchmark_price::text,
        local_close_price::text,
        fx_rate::text,
        theoretical_price::text,
        local_available,
        status,
        validation_notes,
        created_at
    FROM %s`

	getPriceRecordSQL          = selectPriceColumns + ` WHERE date = $1;`
	listRecentPriceRecordsSQL  = selectPriceColumns + ` ORDER BY date DESC LIMIT $1;`
	listPriceRecordsBetweenSQL = selectPriceColumns + ` WHERE date >= $1 AND date <= $2 ORDER BY date;`

	recentValidBenchmarkSQL = `SELECT benchmark_price::text
    FROM %s
    WHERE status = 'valid'
      AND date < $1
    ORDER BY date DESC
    LIMIT $2;`

	previousFXRateSQL = `SELECT fx_rate::text
    FROM %s
    WHERE date < $1
      AND fx_rate IS NOT NULL
    ORDER BY date DESC
    LIMIT 1;`

	upsertExchangeRateSQL = `INSERT INTO daily_exchange_rates (
        date,
        usd_cny,
        jpy_cny,
        eur_cny,
        source,
        status
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (date) DO UPDATE
    SET
        usd_cny = EXCLUDED.usd_cny,
        jpy_cny = EXCLUDED.jpy_cny,
        eur_cny = EXCLUDED.eur_cny,
        source  = EXCLUDED.source,
        status  = EXCLUDED.status;`

	selectExchangeRateColumns = `SELECT
        date,
        usd_cny::text,
        jpy_cny::text,
        eur_cny::text,
        source,
        status,
        created_at
    FROM daily_exchange_rates`

	getExchangeRateSQL         = selectExchangeRateColumns + ` WHERE date = $1;`
	listRecentExchangeRatesSQL = selectExchangeRateColumns + ` ORDER BY date DESC LIMIT $1;`
	copyTableSQL               = `COPY %s TO STDOUT WITH (FORMAT csv, HEADER true);`
	tryAdvisoryLockSQL         = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL          = `SELECT pg_advisory_unlock($1);`
	exchangeRateTable          = "daily_exchange_rates"
)

// Store is the PostgreSQL gateway.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the tables when missing.
func (s *Store) Init(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, metal := range Metals {
		if _, err := pool.Exec(ctx, fmt.Sprintf(createPriceTableSQL, metal.Table())); err != nil {
			return fmt.Errorf("create %s: %w", metal.Table(), err)
		}
	}
	if _, err := pool.Exec(ctx, createExchangeRateTableSQL); err != nil {
		return fmt.Errorf("create %s: %w", exchangeRateTable, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertPriceRecord persists or overwrites the record for its date.
func (s *Store) UpsertPriceRecord(ctx context.Context, rec PriceRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, fmt.Sprintf(upsertPriceRecordSQL, rec.Metal.Table()),
		DateOf(rec.Date),
		rec.BenchmarkPrice.String(),
		nullDecimalArg(rec.LocalClosePrice),
		rec.FXRate.String(),
		rec.TheoreticalPrice.String(),
		rec.LocalAvailable,
		string(rec.Status),
		rec.ValidationNotes,
	)
	if execErr != nil {
		return fmt.Errorf("upsert %s record: %w", rec.Metal, execErr)
	}
	return nil
}

// GetPriceRecord loads a single day.
func (s *Store) GetPriceRecord(ctx context.Context, metal Metal, date time.Time) (*PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, fmt.Sprintf(getPriceRecordSQL, metal.Table()), DateOf(date))
	if queryErr != nil {
		return nil, fmt.Errorf("get %s record: %w", metal, queryErr)
	}
	records, err := collectPriceRecords(rows, metal, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListRecentPriceRecords lists the most recent records ordered by descending date.
func (s *Store) ListRecentPriceRecords(ctx context.Context, metal Metal, limit int) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, fmt.Sprintf(listRecentPriceRecordsSQL, metal.Table()), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent %s records: %w", metal, queryErr)
	}
	return collectPriceRecords(rows, metal, limit)
}

// ListPriceRecordsBetween lists records within an inclusive date range.
func (s *Store) ListPriceRecordsBetween(ctx context.Context, metal Metal, from, to time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, fmt.Sprintf(listPriceRecordsBetweenSQL, metal.Table()), DateOf(from), DateOf(to))
	if queryErr != nil {
		return nil, fmt.Errorf("list %s records between: %w", metal, queryErr)
	}
	return collectPriceRecords(rows, metal, 0)
}

// RecentValidBenchmarkPrices returns the benchmark history used by the validator.
func (s *Store) RecentValidBenchmarkPrices(ctx context.Context, metal Metal, before time.Time, window int) ([]decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, fmt.Sprintf(recentValidBenchmarkSQL, metal.Table()), DateOf(before), window)
	if queryErr != nil {
		return nil, fmt.Errorf("recent valid %s benchmark: %w", metal, queryErr)
	}
	defer rows.Close()

	prices := make([]decimal.Decimal, 0, window)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse benchmark price: %w", err)
		}
		prices = append(prices, price)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prices, nil
}

// PreviousFXRate returns the most recent FX rate strictly before the given date.
func (s *Store) PreviousFXRate(ctx context.Context, metal Metal, before time.Time) (decimal.NullDecimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.NullDecimal{}, err
	}

	var raw string
	scanErr := pool.QueryRow(ctx, fmt.Sprintf(previousFXRateSQL, metal.Table()), DateOf(before)).Scan(&raw)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return decimal.NullDecimal{}, nil
	}
	if scanErr != nil {
		return decimal.NullDecimal{}, fmt.Errorf("previous %s fx rate: %w", metal, scanErr)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse fx rate: %w", err)
	}
	return decimal.NewNullDecimal(rate), nil
}

// UpsertExchangeRate persists or overwrites the rates for a date.
func (s *Store) UpsertExchangeRate(ctx context.Context, rec ExchangeRateRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertExchangeRateSQL,
		DateOf(rec.Date),
		nullDecimalArg(rec.USDCNY),
		nullDecimalArg(rec.JPYCNY),
		nullDecimalArg(rec.EURCNY),
		rec.Source,
		string(rec.Status),
	)
	if execErr != nil {
		return fmt.Errorf("upsert exchange rate: %w", execErr)
	}
	return nil
}

// GetExchangeRate loads the rates for a single date.
func (s *Store) GetExchangeRate(ctx context.Context, date time.Time) (*ExchangeRateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getExchangeRateSQL, DateOf(date))
	if queryErr != nil {
		return nil, fmt.Errorf("get exchange rate: %w", queryErr)
	}
	records, err := collectExchangeRates(rows, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListRecentExchangeRates lists the most recent rates ordered by descending date.
func (s *Store) ListRecentExchangeRates(ctx context.Context, limit int) ([]ExchangeRateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentExchangeRatesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent exchange rates: %w", queryErr)
	}
	return collectExchangeRates(rows, limit)
}

// Snapshot streams every table as CSV into a zip archive.
func (s *Store) Snapshot(ctx context.Context, dir, stem string) (string, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	path := filepath.Join(dir, stem+".zip")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	archive := zip.NewWriter(file)
	tables := []string{exchangeRateTable}
	for _, metal := range Metals {
		tables = append(tables, metal.Table())
	}
	for _, table := range tables {
		entry, err := archive.Create(table + ".csv")
		if err == nil {
			_, err = conn.Conn().PgConn().CopyTo(ctx, entry, fmt.Sprintf(copyTableSQL, table))
		}
		if err != nil {
			archive.Close()
			file.Close()
			os.Remove(path)
			return "", fmt.Errorf("copy %s: %w", table, err)
		}
	}
	if err := archive.Close(); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("finalise snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	return path, nil
}

func nullDecimalArg(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(v sql.NullString) (decimal.NullDecimal, error) {
	if !v.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func collectPriceRecords(rows pgx.Rows, metal Metal, capacity int) ([]PriceRecord, error) {
	defer rows.Close()

	records := make([]PriceRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanPriceRecord(rows, metal)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanPriceRecord(rows pgx.Rows, metal Metal) (PriceRecord, error) {
	var (
		date           time.Time
		benchmarkStr   string
		localStr       sql.NullString
		fxStr          string
		theoreticalStr string
		localAvailable bool
		status         string
		notes          string
		createdAt      time.Time
	)

	if err := rows.Scan(
		&date,
		&benchmarkStr,
		&localStr,
		&fxStr,
		&theoreticalStr,
		&localAvailable,
		&status,
		&notes,
		&createdAt,
	); err != nil {
		return PriceRecord{}, err
	}

	benchmark, err := decimal.NewFromString(benchmarkStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse benchmark price: %w", err)
	}
	local, err := parseNullDecimal(localStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse local close price: %w", err)
	}
	fx, err := decimal.NewFromString(fxStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse fx rate: %w", err)
	}
	theoretical, err := decimal.NewFromString(theoreticalStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse theoretical price: %w", err)
	}

	return PriceRecord{
		Metal:            metal,
		Date:             DateOf(date),
		BenchmarkPrice:   benchmark,
		LocalClosePrice:  local,
		FXRate:           fx,
		TheoreticalPrice: theoretical,
		LocalAvailable:   localAvailable,
		Status:           Status(status),
		ValidationNotes:  notes,
		CreatedAt:        createdAt,
	}, nil
}

func collectExchangeRates(rows pgx.Rows, capacity int) ([]ExchangeRateRecord, error) {
	defer rows.Close()

	records := make([]ExchangeRateRecord, 0, capacity)
	for rows.Next() {
		var (
			date      time.Time
			usd       sql.NullString
			jpy       sql.NullString
			eur       sql.NullString
			source    string
			status    string
			createdAt time.Time
		)
		if err := rows.Scan(&date, &usd, &jpy, &eur, &source, &status, &createdAt); err != nil {
			return nil, err
		}

		rec := ExchangeRateRecord{
			Date:      DateOf(date),
			Source:    source,
			Status:    Status(status),
			CreatedAt: createdAt,
		}
		var err error
		if rec.USDCNY, err = parseNullDecimal(usd); err != nil {
			return nil, fmt.Errorf("parse usd_cny: %w", err)
		}
		if rec.JPYCNY, err = parseNullDecimal(jpy); err != nil {
			return nil, fmt.Errorf("parse jpy_cny: %w", err)
		}
		if rec.EURCNY, err = parseNullDecimal(eur); err != nil {
			return nil, fmt.Errorf("parse eur_cny: %w", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

var (
	_ Gateway        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ Snapshotter    = (*Store)(nil)
)
