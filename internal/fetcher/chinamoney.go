package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	chinamoneyCCPRPath = "/ags/ms/cm-u-bk-ccpr/CcprHisNew.do"
	// SourceChinamoney tags records produced by this fetcher.
	SourceChinamoney = "chinamoney"
)

// ChinamoneyOptions parameterise the CFETS central parity fetcher.
type ChinamoneyOptions struct {
	BaseURL string
	HTTP    HTTPOptions
}

// Chinamoney fetches CNY central parity rates from chinamoney.com.cn.
type Chinamoney struct {
	opts    ChinamoneyOptions
	logger  zerolog.Logger
	http    *httpSource
	baseURL string
}

// NewChinamoney constructs a chinamoney fetcher.
func NewChinamoney(opts ChinamoneyOptions, logger zerolog.Logger) *Chinamoney {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.chinamoney.com.cn"
	}

	l := logger.With().Str("component", "chinamoney_fetcher").Logger()
	return &Chinamoney{
		opts:    opts,
		logger:  l,
		http:    newHTTPSource(opts.HTTP, l),
		baseURL: baseURL,
	}
}

// FetchFX retrieves USD/CNY for date.
func (c *Chinamoney) FetchFX(ctx context.Context, date time.Time) FXQuote {
	multi := c.FetchMultiFX(ctx, date, []Pair{PairUSDCNY})
	rate, ok := multi.Rates[PairUSDCNY]
	if !ok {
		reason := "no data"
		if len(multi.Errors) > 0 {
			reason = strings.Join(multi.Errors, "; ")
		}
		return FXQuote{Date: date, Err: fmt.Errorf("usd/cny unavailable: %s", reason)}
	}
	return FXQuote{Date: date, Rate: rate}
}

// FetchMultiFX retrieves each pair with its own request, sequentially.
func (c *Chinamoney) FetchMultiFX(ctx context.Context, date time.Time, pairs []Pair) MultiFXQuote {
	if len(pairs) == 0 {
		pairs = DefaultPairs
	}

	quote := MultiFXQuote{
		Date:   date,
		Rates:  make(map[Pair]decimal.Decimal, len(pairs)),
		Source: SourceChinamoney,
	}
	for _, pair := range pairs {
		rate, err := c.fetchPair(ctx, date, pair)
		if err != nil {
			quote.Errors = append(quote.Errors, fmt.Sprintf("%s: %v", pair, err))
			continue
		}
		quote.Rates[pair] = rate
	}

	c.logger.Debug().
		Str("date", date.Format(dateLayout)).
		Int("collected", len(quote.Rates)).
		Int("failed", len(quote.Errors)).
		Msg("central parity fetched")
	return quote
}

func (c *Chinamoney) fetchPair(ctx context.Context, date time.Time, pair Pair) (decimal.Decimal, error) {
	day := date.Format(dateLayout)
	form := url.Values{
		"startDate": {day},
		"endDate":   {day},
		"currency":  {string(pair)},
		"pageNum":   {"1"},
		"pageSize":  {"1"},
	}

	endpoint := c.baseURL + chinamoneyCCPRPath
	resp, err := c.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		req.Header.Set("Origin", c.baseURL)
		req.Header.Set("Referer", c.baseURL+"/chinese/bkccpr/")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		return req, nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	if resp.Status != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("http %d", resp.Status)
	}

	var payload ccprResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode response: %w", err)
	}
	if len(payload.Records) == 0 {
		return decimal.Decimal{}, errors.New("empty records")
	}

	record := payload.Records[0]
	if record.Date != day {
		return decimal.Decimal{}, fmt.Errorf("date mismatch (got %s)", record.Date)
	}

	for i, name := range payload.Data.SearchList {
		if name != string(pair) || i >= len(record.Values) {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(record.Values[i]))
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("parse rate %q: %w", record.Values[i], err)
		}
		if !rate.IsPositive() {
			return decimal.Decimal{}, fmt.Errorf("non-positive rate %s", rate)
		}
		return rate, nil
	}
	return decimal.Decimal{}, errors.New("pair missing from response (non-trading day?)")
}

type ccprResponse struct {
	Data struct {
		Head       []string `json:"head"`
		SearchList []string `json:"searchlist"`
	} `json:"data"`
	Records []struct {
		Date   string   `json:"date"`
		Values []string `json:"values"`
	} `json:"records"`
}

var (
	_ FXFetcher      = (*Chinamoney)(nil)
	_ MultiFXFetcher = (*Chinamoney)(nil)
)
