package collector

import (
	"context"
	"fmt"
	"time"

	"gold-tracker/internal/storage"
)

// SuspiciousRecord summarises a record that failed validation.
type SuspiciousRecord struct {
	Date   time.Time
	Status storage.Status
	Notes  string
}

// IntegrityReport describes the health of the most recent records.
type IntegrityReport struct {
	Metal             storage.Metal
	Total             int
	Valid             int
	Suspicious        int
	LocalAvailable    int
	MissingDates      []time.Time
	SuspiciousRecords []SuspiciousRecord
}

// CheckIntegrity inspects the latest days records of metal.
func (c *Collector) CheckIntegrity(ctx context.Context, metal storage.Metal, days int) (IntegrityReport, error) {
	report := IntegrityReport{Metal: metal, MissingDates: []time.Time{}}
	if c.store == nil {
		return report, storage.ErrNotConfigured
	}

	records, err := c.store.ListRecentPriceRecords(ctx, metal, days)
	if err != nil {
		return report, fmt.Errorf("list %s records: %w", metal, err)
	}

	report.Total = len(records)
	for _, rec := range records {
		if rec.Status == storage.StatusValid {
			report.Valid++
		} else {
			report.Suspicious++
			report.SuspiciousRecords = append(report.SuspiciousRecords, SuspiciousRecord{
				Date:   rec.Date,
				Status: rec.Status,
				Notes:  rec.ValidationNotes,
			})
		}
		if rec.LocalAvailable {
			report.LocalAvailable++
		}
	}

	if len(records) > 0 {
		report.MissingDates = MissingTradingDays(records[len(records)-1].Date, records[0].Date)
	}
	return report, nil
}

// MissingTradingDays would list trading days without a record. No trading
// calendar is available, so it always returns an empty list.
func MissingTradingDays(from, to time.Time) []time.Time {
	return []time.Time{}
}
