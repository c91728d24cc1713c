package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// GoldAPIOptions parameterise the goldapi.io fetcher.
type GoldAPIOptions struct {
	BaseURL  string
	APIKey   string
	Symbol   string
	Location *time.Location
	Now      func() time.Time
	HTTP     HTTPOptions
}

// GoldAPI fetches LBMA benchmark prices from goldapi.io.
type GoldAPI struct {
	opts    GoldAPIOptions
	logger  zerolog.Logger
	http    *httpSource
	baseURL string
}

// NewGoldAPI constructs a goldapi.io fetcher.
func NewGoldAPI(opts GoldAPIOptions, logger zerolog.Logger) *GoldAPI {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.goldapi.io/api"
	}
	if opts.Symbol == "" {
		opts.Symbol = "XAU"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := logger.With().Str("component", "goldapi_fetcher").Str("symbol", opts.Symbol).Logger()
	return &GoldAPI{
		opts:    opts,
		logger:  l,
		http:    newHTTPSource(opts.HTTP, l),
		baseURL: baseURL,
	}
}

// FetchBenchmark retrieves the price for date; today uses the live endpoint.
func (g *GoldAPI) FetchBenchmark(ctx context.Context, date time.Time) BenchmarkQuote {
	quote := BenchmarkQuote{Date: date}
	if g.opts.APIKey == "" {
		quote.Err = errors.New("goldapi api key not configured")
		return quote
	}

	endpoint := g.endpoint(date)
	resp, err := g.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-access-token", g.opts.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		quote.Err = fmt.Errorf("goldapi request: %w", err)
		return quote
	}

	switch resp.Status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		quote.Err = errors.New("goldapi: api key invalid or expired")
		return quote
	case http.StatusNotFound:
		quote.Err = fmt.Errorf("goldapi: no %s data for %s (non-trading day?)", g.opts.Symbol, date.Format(dateLayout))
		return quote
	case http.StatusTooManyRequests:
		quote.Err = errors.New("goldapi: request quota exceeded")
		return quote
	default:
		quote.Err = fmt.Errorf("goldapi: http %d: %s", resp.Status, truncate(resp.Body, 200))
		return quote
	}

	var payload goldAPIResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		quote.Err = fmt.Errorf("decode goldapi response: %w", err)
		return quote
	}
	if payload.Price == nil {
		quote.Err = errors.New("goldapi: response has no price field")
		return quote
	}
	if !payload.Price.IsPositive() {
		quote.Err = fmt.Errorf("goldapi: non-positive price %s", payload.Price)
		return quote
	}

	quote.Price = *payload.Price
	g.logger.Debug().Str("date", date.Format(dateLayout)).Str("price", quote.Price.String()).Msg("benchmark fetched")
	return quote
}

func (g *GoldAPI) endpoint(date time.Time) string {
	base := fmt.Sprintf("%s/%s/USD", g.baseURL, g.opts.Symbol)
	today := g.opts.Now().In(g.opts.Location).Format(dateLayout)
	if date.Format(dateLayout) == today {
		return base
	}
	return base + "/" + date.Format("20060102")
}

type goldAPIResponse struct {
	Timestamp int64            `json:"timestamp"`
	Metal     string           `json:"metal"`
	Currency  string           `json:"currency"`
	Price     *decimal.Decimal `json:"price"`
}

var _ BenchmarkFetcher = (*GoldAPI)(nil)
