package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Metal identifies a precious-metal asset class.
type Metal string

const (
	Gold   Metal = "gold"
	Silver Metal = "silver"
)

// Metals lists every supported metal in collection order.
var Metals = []Metal{Gold, Silver}

// ParseMetal converts user input into a Metal.
func ParseMetal(v string) (Metal, error) {
	switch Metal(v) {
	case Gold, Silver:
		return Metal(v), nil
	default:
		return "", fmt.Errorf("unknown metal %q", v)
	}
}

// Table returns the price table backing the metal.
func (m Metal) Table() string {
	return "daily_" + string(m) + "_prices"
}

// Status classifies a stored record.
type Status string

const (
	StatusValid          Status = "valid"
	StatusPartial        Status = "partial"
	StatusSuspiciousLBMA Status = "suspicious_lbma"
	StatusSuspiciousFX   Status = "suspicious_fx"
	StatusSuspiciousSGE  Status = "suspicious_sge"
)

// Suspicious reports whether the status flags a failed validation check.
func (s Status) Suspicious() bool {
	switch s {
	case StatusSuspiciousLBMA, StatusSuspiciousFX, StatusSuspiciousSGE:
		return true
	}
	return false
}

// PriceRecord is one calendar day of reconciled metal prices.
type PriceRecord struct {
	Metal            Metal
	Date             time.Time
	BenchmarkPrice   decimal.Decimal
	LocalClosePrice  decimal.NullDecimal
	FXRate           decimal.Decimal
	TheoreticalPrice decimal.Decimal
	LocalAvailable   bool
	Status           Status
	ValidationNotes  string
	CreatedAt        time.Time
}

// LocalPremiumPct returns (local/theoretical - 1) * 100 when a local price exists.
func (r PriceRecord) LocalPremiumPct() decimal.NullDecimal {
	if !r.LocalClosePrice.Valid || r.TheoreticalPrice.IsZero() {
		return decimal.NullDecimal{}
	}
	pct := r.LocalClosePrice.Decimal.Div(r.TheoreticalPrice).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
	return decimal.NewNullDecimal(pct)
}

// ExchangeRateRecord is one calendar day of CNY central-parity rates.
type ExchangeRateRecord struct {
	Date      time.Time
	USDCNY    decimal.NullDecimal
	JPYCNY    decimal.NullDecimal
	EURCNY    decimal.NullDecimal
	Source    string
	Status    Status
	CreatedAt time.Time
}

// DateOf truncates t to its calendar day in t's own location, returned as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO calendar date.
func ParseDate(v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", v, err)
	}
	return t, nil
}

const dateLayout = "2006-01-02"

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
