package app

import (
	"context"
	"fmt"

	"gold-tracker/internal/collector"
	"gold-tracker/internal/processor"
	"gold-tracker/internal/storage"
)

// Summary prints the stored record for a date together with an integrity
// report over the trailing window.
func (a *App) Summary(ctx context.Context, opts SummaryOptions) error {
	date := opts.Date
	if date.IsZero() {
		date = a.today()
	}
	date = storage.DateOf(date)

	return a.withStore(ctx, func(store storage.Gateway) error {
		rec, err := store.GetPriceRecord(ctx, opts.Metal, date)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Fprintf(a.Out, "%s 无%s记录\n", storage.FormatDate(date), opts.Metal)
		} else if err := processor.WritePriceSummary(a.Out, *rec); err != nil {
			return err
		}

		if opts.Integrity <= 0 {
			return nil
		}
		coll := collector.New(collector.Options{Store: store}, a.Logger)
		report, err := coll.CheckIntegrity(ctx, opts.Metal, opts.Integrity)
		if err != nil {
			return err
		}
		a.writeIntegrity(report, opts.Integrity)
		return nil
	})
}

func (a *App) writeIntegrity(report collector.IntegrityReport, days int) {
	fmt.Fprintf(a.Out, "\n最近 %d 条%s记录完整性\n", days, report.Metal)
	fmt.Fprintf(a.Out, "  总数:       %d\n", report.Total)
	fmt.Fprintf(a.Out, "  有效:       %d\n", report.Valid)
	fmt.Fprintf(a.Out, "  可疑:       %d\n", report.Suspicious)
	fmt.Fprintf(a.Out, "  本地有成交: %d\n", report.LocalAvailable)
	for _, s := range report.SuspiciousRecords {
		fmt.Fprintf(a.Out, "  - %s %s %s\n", storage.FormatDate(s.Date), s.Status, sanitizeInline(s.Notes))
	}
}
