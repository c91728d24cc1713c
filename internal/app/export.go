package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"gold-tracker/internal/storage"
)

// Export renders price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := a.today()
	if opts.To != nil {
		to = storage.DateOf(*opts.To)
	}
	from := to.AddDate(0, 0, -opts.MaxPoints)
	if opts.From != nil {
		from = storage.DateOf(*opts.From)
	}
	if from.After(to) {
		return fmt.Errorf("from must not be after to: %w", errEmptyRange)
	}

	return a.withStore(ctx, func(store storage.Gateway) error {
		records, err := store.ListPriceRecordsBetween(ctx, opts.Metal, from, to)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			a.Logger.Info().Str("metal", string(opts.Metal)).Msg("no records found for export window")
			return nil
		}

		downsampled := downsampleRecords(records, opts.MaxPoints)
		a.Logger.Info().
			Str("metal", string(opts.Metal)).
			Int("total", len(records)).
			Int("exported", len(downsampled)).
			Msg("exporting records")

		if opts.CSVPath != "" {
			if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
				return err
			}
		}
		if opts.PNGPath != "" {
			if err := writeRecordsPNG(opts.PNGPath, opts.Metal, downsampled); err != nil {
				return err
			}
		}
		return nil
	})
}

func downsampleRecords(records []storage.PriceRecord, max int) []storage.PriceRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.PriceRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.PriceRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "metal", "benchmark_price", "fx_rate", "theoretical_price", "local_close_price", "local_premium_pct", "local_available", "status", "validation_notes"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		local := ""
		if rec.LocalClosePrice.Valid {
			local = rec.LocalClosePrice.Decimal.String()
		}
		premium := ""
		if p := rec.LocalPremiumPct(); p.Valid {
			premium = p.Decimal.StringFixed(4)
		}
		row := []string{
			storage.FormatDate(rec.Date),
			string(rec.Metal),
			rec.BenchmarkPrice.String(),
			rec.FXRate.String(),
			rec.TheoreticalPrice.String(),
			local,
			premium,
			strconv.FormatBool(rec.LocalAvailable),
			string(rec.Status),
			rec.ValidationNotes,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path string, metal storage.Metal, records []storage.PriceRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	theoretical := make([]float64, len(records))
	for i, rec := range records {
		x[i] = rec.Date
		theoretical[i] = rec.TheoreticalPrice.InexactFloat64()
	}

	// Local prices and premiums only exist on trading days.
	var localX, premiumX []time.Time
	var local, premium []float64
	for _, rec := range records {
		if rec.LocalClosePrice.Valid {
			localX = append(localX, rec.Date)
			local = append(local, rec.LocalClosePrice.Decimal.InexactFloat64())
		}
		if p := rec.LocalPremiumPct(); p.Valid {
			premiumX = append(premiumX, rec.Date)
			premium = append(premium, p.Decimal.InexactFloat64())
		}
	}

	priceFormat := "%.2f"
	if metal == storage.Silver {
		priceFormat = "%.4f"
	}
	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, priceFormat)
	}
	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Theoretical",
			XValues: x,
			YValues: theoretical,
		},
	}
	if len(local) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "SGE close",
			XValues: localX,
			YValues: local,
		})
	}
	if len(premium) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "Premium %",
			XValues: premiumX,
			YValues: premium,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s (CNY/g)", metal),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (CNY/g)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Premium (%)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
