package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// priceRow is the gorm mapping shared by every metal table.
type priceRow struct {
	Date             string  `gorm:"column:date;primaryKey;type:text"`
	BenchmarkPrice   string  `gorm:"column:benchmark_price;type:text;not null"`
	LocalClosePrice  *string `gorm:"column:local_close_price;type:text"`
	FXRate           string  `gorm:"column:fx_rate;type:text;not null"`
	TheoreticalPrice string  `gorm:"column:theoretical_price;type:text;not null"`
	LocalAvailable   bool    `gorm:"column:local_available;not null;default:false"`
	Status           string  `gorm:"column:status;type:text;not null"`
	ValidationNotes  string  `gorm:"column:validation_notes;type:text"`
	CreatedAt        time.Time
}

type exchangeRateRow struct {
	Date      string  `gorm:"column:date;primaryKey;type:text"`
	USDCNY    *string `gorm:"column:usd_cny;type:text"`
	JPYCNY    *string `gorm:"column:jpy_cny;type:text"`
	EURCNY    *string `gorm:"column:eur_cny;type:text"`
	Source    string  `gorm:"column:source;type:text;not null"`
	Status    string  `gorm:"column:status;type:text;not null"`
	CreatedAt time.Time
}

func (exchangeRateRow) TableName() string { return exchangeRateTable }

var priceUpdateColumns = []string{
	"benchmark_price",
	"local_close_price",
	"fx_rate",
	"theoretical_price",
	"local_available",
	"status",
	"validation_notes",
}

// SQLiteStore is the single-file gateway backed by gorm.
type SQLiteStore struct {
	db   *gorm.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is accepted.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.New(gormWriter{logger: logger.With().Str("component", "gorm").Logger()}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one writer; also keeps ":memory:" databases alive across calls
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, path: path}, nil
}

// Init migrates every table.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	for _, metal := range Metals {
		if err := db.Table(metal.Table()).AutoMigrate(&priceRow{}); err != nil {
			return fmt.Errorf("migrate %s: %w", metal.Table(), err)
		}
	}
	if err := db.AutoMigrate(&exchangeRateRow{}); err != nil {
		return fmt.Errorf("migrate %s: %w", exchangeRateTable, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) getDB(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db.WithContext(ctx), nil
}

// UpsertPriceRecord persists or overwrites the record for its date.
func (s *SQLiteStore) UpsertPriceRecord(ctx context.Context, rec PriceRecord) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}

	row := priceRow{
		Date:             FormatDate(rec.Date),
		BenchmarkPrice:   rec.BenchmarkPrice.String(),
		LocalClosePrice:  nullDecimalString(rec.LocalClosePrice),
		FXRate:           rec.FXRate.String(),
		TheoreticalPrice: rec.TheoreticalPrice.String(),
		LocalAvailable:   rec.LocalAvailable,
		Status:           string(rec.Status),
		ValidationNotes:  rec.ValidationNotes,
	}
	err = db.Table(rec.Metal.Table()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns(priceUpdateColumns),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert %s record: %w", rec.Metal, err)
	}
	return nil
}

// GetPriceRecord loads a single day.
func (s *SQLiteStore) GetPriceRecord(ctx context.Context, metal Metal, date time.Time) (*PriceRecord, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var rows []priceRow
	if err := db.Table(metal.Table()).Where("date = ?", FormatDate(date)).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get %s record: %w", metal, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec, err := rows[0].toRecord(metal)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecentPriceRecords lists the most recent records ordered by descending date.
func (s *SQLiteStore) ListRecentPriceRecords(ctx context.Context, metal Metal, limit int) ([]PriceRecord, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var rows []priceRow
	if err := db.Table(metal.Table()).Order("date DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list recent %s records: %w", metal, err)
	}
	return toRecords(rows, metal)
}

// ListPriceRecordsBetween lists records within an inclusive date range.
func (s *SQLiteStore) ListPriceRecordsBetween(ctx context.Context, metal Metal, from, to time.Time) ([]PriceRecord, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var rows []priceRow
	err = db.Table(metal.Table()).
		Where("date >= ? AND date <= ?", FormatDate(from), FormatDate(to)).
		Order("date").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s records between: %w", metal, err)
	}
	return toRecords(rows, metal)
}

// RecentValidBenchmarkPrices returns the benchmark history used by the validator.
func (s *SQLiteStore) RecentValidBenchmarkPrices(ctx context.Context, metal Metal, before time.Time, window int) ([]decimal.Decimal, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var raw []string
	err = db.Table(metal.Table()).
		Where("status = ? AND date < ?", string(StatusValid), FormatDate(before)).
		Order("date DESC").
		Limit(window).
		Pluck("benchmark_price", &raw).Error
	if err != nil {
		return nil, fmt.Errorf("recent valid %s benchmark: %w", metal, err)
	}

	prices := make([]decimal.Decimal, 0, len(raw))
	for _, v := range raw {
		price, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse benchmark price: %w", err)
		}
		prices = append(prices, price)
	}
	return prices, nil
}

// PreviousFXRate returns the most recent FX rate strictly before the given date.
func (s *SQLiteStore) PreviousFXRate(ctx context.Context, metal Metal, before time.Time) (decimal.NullDecimal, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return decimal.NullDecimal{}, err
	}

	var raw []string
	err = db.Table(metal.Table()).
		Where("date < ? AND fx_rate IS NOT NULL", FormatDate(before)).
		Order("date DESC").
		Limit(1).
		Pluck("fx_rate", &raw).Error
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("previous %s fx rate: %w", metal, err)
	}
	if len(raw) == 0 {
		return decimal.NullDecimal{}, nil
	}
	rate, err := decimal.NewFromString(raw[0])
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse fx rate: %w", err)
	}
	return decimal.NewNullDecimal(rate), nil
}

// UpsertExchangeRate persists or overwrites the rates for a date.
func (s *SQLiteStore) UpsertExchangeRate(ctx context.Context, rec ExchangeRateRecord) error {
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}

	row := exchangeRateRow{
		Date:   FormatDate(rec.Date),
		USDCNY: nullDecimalString(rec.USDCNY),
		JPYCNY: nullDecimalString(rec.JPYCNY),
		EURCNY: nullDecimalString(rec.EURCNY),
		Source: rec.Source,
		Status: string(rec.Status),
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"usd_cny", "jpy_cny", "eur_cny", "source", "status"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert exchange rate: %w", err)
	}
	return nil
}

// GetExchangeRate loads the rates for a single date.
func (s *SQLiteStore) GetExchangeRate(ctx context.Context, date time.Time) (*ExchangeRateRecord, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var row exchangeRateRow
	err = db.Where("date = ?", FormatDate(date)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get exchange rate: %w", err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecentExchangeRates lists the most recent rates ordered by descending date.
func (s *SQLiteStore) ListRecentExchangeRates(ctx context.Context, limit int) ([]ExchangeRateRecord, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var rows []exchangeRateRow
	if err := db.Order("date DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list recent exchange rates: %w", err)
	}

	records := make([]ExchangeRateRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Snapshot writes a consistent copy of the database file with VACUUM INTO.
func (s *SQLiteStore) Snapshot(ctx context.Context, dir, stem string) (string, error) {
	db, err := s.getDB(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	path := filepath.Join(dir, stem+".db")
	if err := db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return path, nil
}

func (r priceRow) toRecord(metal Metal) (PriceRecord, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return PriceRecord{}, err
	}
	benchmark, err := decimal.NewFromString(r.BenchmarkPrice)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse benchmark price: %w", err)
	}
	local, err := parseNullDecimalPtr(r.LocalClosePrice)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse local close price: %w", err)
	}
	fx, err := decimal.NewFromString(r.FXRate)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse fx rate: %w", err)
	}
	theoretical, err := decimal.NewFromString(r.TheoreticalPrice)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse theoretical price: %w", err)
	}

	return PriceRecord{
		Metal:            metal,
		Date:             date,
		BenchmarkPrice:   benchmark,
		LocalClosePrice:  local,
		FXRate:           fx,
		TheoreticalPrice: theoretical,
		LocalAvailable:   r.LocalAvailable,
		Status:           Status(r.Status),
		ValidationNotes:  r.ValidationNotes,
		CreatedAt:        r.CreatedAt,
	}, nil
}

func toRecords(rows []priceRow, metal Metal) ([]PriceRecord, error) {
	records := make([]PriceRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord(metal)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r exchangeRateRow) toRecord() (ExchangeRateRecord, error) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return ExchangeRateRecord{}, err
	}
	rec := ExchangeRateRecord{
		Date:      date,
		Source:    r.Source,
		Status:    Status(r.Status),
		CreatedAt: r.CreatedAt,
	}
	if rec.USDCNY, err = parseNullDecimalPtr(r.USDCNY); err != nil {
		return ExchangeRateRecord{}, fmt.Errorf("parse usd_cny: %w", err)
	}
	if rec.JPYCNY, err = parseNullDecimalPtr(r.JPYCNY); err != nil {
		return ExchangeRateRecord{}, fmt.Errorf("parse jpy_cny: %w", err)
	}
	if rec.EURCNY, err = parseNullDecimalPtr(r.EURCNY); err != nil {
		return ExchangeRateRecord{}, fmt.Errorf("parse eur_cny: %w", err)
	}
	return rec, nil
}

func nullDecimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.String()
	return &v
}

func parseNullDecimalPtr(v *string) (decimal.NullDecimal, error) {
	if v == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// gormWriter routes gorm's logger through zerolog.
type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Msgf(format, args...)
}

var (
	_ Gateway     = (*SQLiteStore)(nil)
	_ Snapshotter = (*SQLiteStore)(nil)
)
