package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	sgeQuotationsPath = "/graph/quotations"
	sgeDelayLayout    = "2006年01月02日 15:04:05"
)

// SGEOptions parameterise the Shanghai Gold Exchange fetcher.
type SGEOptions struct {
	BaseURL   string
	Product   string
	UnitGrams decimal.Decimal
	MinPrice  decimal.Decimal
	MaxPrice  decimal.Decimal
	Location  *time.Location
	HTTP      HTTPOptions
}

// SGE fetches the intraday quotation series and takes its last sane price as the close.
type SGE struct {
	opts    SGEOptions
	logger  zerolog.Logger
	http    *httpSource
	baseURL string
}

// NewSGE constructs an SGE fetcher.
func NewSGE(opts SGEOptions, logger zerolog.Logger) *SGE {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.sge.com.cn"
	}
	if opts.Product == "" {
		opts.Product = "Au99.99"
	}
	if !opts.UnitGrams.IsPositive() {
		opts.UnitGrams = decimal.NewFromInt(1)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	l := logger.With().Str("component", "sge_fetcher").Str("product", opts.Product).Logger()
	return &SGE{
		opts:    opts,
		logger:  l,
		http:    newHTTPSource(opts.HTTP, l),
		baseURL: baseURL,
	}
}

// FetchLocal retrieves the close price in CNY per gram.
func (s *SGE) FetchLocal(ctx context.Context, date time.Time) LocalQuote {
	quote := LocalQuote{Date: date}

	form := url.Values{"instid": {s.opts.Product}}
	endpoint := s.baseURL + sgeQuotationsPath
	resp, err := s.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
		req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		req.Header.Set("Referer", s.baseURL+"/")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		return req, nil
	})
	if err != nil {
		quote.Err = fmt.Errorf("sge request: %w", err)
		return quote
	}
	if resp.Status != http.StatusOK {
		quote.Err = fmt.Errorf("sge: http %d", resp.Status)
		return quote
	}

	var payload sgeResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		quote.Err = fmt.Errorf("decode sge response: %w", err)
		return quote
	}

	if len(payload.Prices) == 0 {
		// no series means no trading session
		s.logger.Info().Str("date", date.Format(dateLayout)).Msg("no quotations, market closed")
		return quote
	}

	if quoted, ok := s.quoteDate(payload.DelayStr); ok && quoted != date.Format(dateLayout) {
		quote.Err = fmt.Errorf("sge quotation dated %s, not %s", quoted, date.Format(dateLayout))
		return quote
	}

	price, ok := s.lastValidPrice(payload.Prices)
	if !ok {
		quote.Err = fmt.Errorf("sge: no valid %s price in series", payload.Heyue)
		return quote
	}

	quote.Price = decimal.NewNullDecimal(price.Div(s.opts.UnitGrams))
	quote.Available = true
	return quote
}

// lastValidPrice scans from the end for the first parseable price within the sanity range.
func (s *SGE) lastValidPrice(prices []json.RawMessage) (decimal.Decimal, bool) {
	for i := len(prices) - 1; i >= 0; i-- {
		raw := strings.Trim(strings.TrimSpace(string(prices[i])), `"`)
		if raw == "" || raw == "null" {
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if s.inRange(price) {
			return price, true
		}
	}
	return decimal.Decimal{}, false
}

func (s *SGE) inRange(price decimal.Decimal) bool {
	if !s.opts.MinPrice.IsZero() && price.LessThan(s.opts.MinPrice) {
		return false
	}
	if !s.opts.MaxPrice.IsZero() && price.GreaterThan(s.opts.MaxPrice) {
		return false
	}
	return true
}

func (s *SGE) quoteDate(delay string) (string, bool) {
	delay = strings.TrimSpace(delay)
	if delay == "" {
		return "", false
	}
	t, err := time.ParseInLocation(sgeDelayLayout, delay, s.opts.Location)
	if err != nil {
		return "", false
	}
	return t.Format(dateLayout), true
}

type sgeResponse struct {
	Times    []string          `json:"times"`
	Prices   []json.RawMessage `json:"prices"`
	Heyue    string            `json:"heyue"`
	DelayStr string            `json:"delaystr"`
}

var _ LocalPriceFetcher = (*SGE)(nil)
