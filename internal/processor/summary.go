package processor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/storage"
)

// Summary prints a human readable block for each successful collection.
type Summary struct {
	w io.Writer
}

// NewSummary writes summaries to w.
func NewSummary(w io.Writer) *Summary {
	return &Summary{w: w}
}

// Name implements scheduler.Processor.
func (s *Summary) Name() string { return "summary" }

// Process implements scheduler.Processor.
func (s *Summary) Process(_ context.Context, out scheduler.Outcome) error {
	switch {
	case out.Metal != nil && out.Metal.Success():
		return WritePriceSummary(s.w, *out.Metal.Record)
	case out.FX != nil && out.FX.Success():
		return WriteExchangeRateSummary(s.w, *out.FX.Record)
	}
	return nil
}

var metalLabels = map[storage.Metal]struct{ title, local string }{
	storage.Gold:   {"黄金价格数据", "SGE Au99.99"},
	storage.Silver: {"白银价格数据", "SGE Ag99.99"},
}

// WritePriceSummary renders one price record.
func WritePriceSummary(w io.Writer, rec storage.PriceRecord) error {
	labels := metalLabels[rec.Metal]
	places := int32(2)
	if rec.Metal == storage.Silver {
		places = 4
	}
	rule := strings.Repeat("=", 40)

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s\n%s\n", storage.FormatDate(rec.Date), labels.title, rule)
	fmt.Fprintf(&b, "  LBMA 定盘价:    $%s/盎司\n", rec.BenchmarkPrice.StringFixed(2))
	fmt.Fprintf(&b, "  USD/CNY 汇率:   %s\n", rec.FXRate.StringFixed(4))
	fmt.Fprintf(&b, "  理论进口价:     ¥%s/克\n", rec.TheoreticalPrice.StringFixed(places))
	if rec.LocalClosePrice.Valid {
		fmt.Fprintf(&b, "  %-15s ¥%s/克\n", labels.local+":", rec.LocalClosePrice.Decimal.StringFixed(places))
		if premium := rec.LocalPremiumPct(); premium.Valid {
			sign := ""
			if !premium.Decimal.IsNegative() {
				sign = "+"
			}
			fmt.Fprintf(&b, "  溢价率:         %s%s%%\n", sign, premium.Decimal.StringFixed(2))
		}
	} else {
		fmt.Fprintf(&b, "  %-15s 无交易\n", labels.local+":")
	}
	fmt.Fprintf(&b, "  数据状态:       %s\n%s\n", rec.Status, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteExchangeRateSummary renders one exchange rate record.
func WriteExchangeRateSummary(w io.Writer, rec storage.ExchangeRateRecord) error {
	rule := strings.Repeat("=", 40)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s 人民币中间价\n%s\n", storage.FormatDate(rec.Date), rule)
	for _, row := range []struct {
		label string
		rate  string
	}{
		{"USD/CNY", nullString(rec.USDCNY.Valid, rec.USDCNY.Decimal.StringFixed(4))},
		{"100JPY/CNY", nullString(rec.JPYCNY.Valid, rec.JPYCNY.Decimal.StringFixed(4))},
		{"EUR/CNY", nullString(rec.EURCNY.Valid, rec.EURCNY.Decimal.StringFixed(4))},
	} {
		fmt.Fprintf(&b, "  %-12s %s\n", row.label+":", row.rate)
	}
	fmt.Fprintf(&b, "  来源: %s  状态: %s\n%s\n", rec.Source, rec.Status, rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func nullString(valid bool, v string) string {
	if !valid {
		return "-"
	}
	return v
}

var _ scheduler.Processor = (*Summary)(nil)
