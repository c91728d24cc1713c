package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"gold-tracker/internal/storage"
)

// Show prints recent records for a metal, or recent exchange rates.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	return a.withStore(ctx, func(store storage.Gateway) error {
		if opts.FX {
			return a.showRates(ctx, store, opts.Limit)
		}
		return a.showPrices(ctx, store, opts.Metal, opts.Limit)
	})
}

func (a *App) showPrices(ctx context.Context, store storage.Gateway, metal storage.Metal, limit int) error {
	records, err := store.ListRecentPriceRecords(ctx, metal, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(a.Out, "no %s records found\n", metal)
		return nil
	}

	places := int32(2)
	if metal == storage.Silver {
		places = 4
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tBenchmark(USD/oz)\tFX\tTheoretical(CNY/g)\tLocal(CNY/g)\tPremium%\tStatus\tNotes")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			storage.FormatDate(rec.Date),
			formatDecimal(rec.BenchmarkPrice, 2),
			formatDecimal(rec.FXRate, 4),
			formatDecimal(rec.TheoreticalPrice, places),
			formatNullDecimal(rec.LocalClosePrice, places),
			formatNullDecimal(rec.LocalPremiumPct(), 2),
			rec.Status,
			sanitizeInline(rec.ValidationNotes),
		)
	}
	return writer.Flush()
}

func (a *App) showRates(ctx context.Context, store storage.Gateway, limit int) error {
	records, err := store.ListRecentExchangeRates(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no exchange rates found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tUSD/CNY\t100JPY/CNY\tEUR/CNY\tSource\tStatus")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			storage.FormatDate(rec.Date),
			formatNullDecimal(rec.USDCNY, 4),
			formatNullDecimal(rec.JPYCNY, 4),
			formatNullDecimal(rec.EURCNY, 4),
			rec.Source,
			rec.Status,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}
