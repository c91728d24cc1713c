package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/storage"
)

// KeyValueSetter is the subset of the redis client used by RedisLatest.
type KeyValueSetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisOptions configure the latest-record cache.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisLatest publishes the newest record per metal and the newest exchange
// rates as JSON under "<prefix>:latest:<name>".
type RedisLatest struct {
	client KeyValueSetter
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisClient dials redis with opts.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// NewRedisLatest wraps client.
func NewRedisLatest(client KeyValueSetter, opts RedisOptions, logger zerolog.Logger) *RedisLatest {
	prefix := strings.TrimRight(opts.KeyPrefix, ":")
	if prefix == "" {
		prefix = "goldtracker"
	}
	return &RedisLatest{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
		logger: logger.With().Str("component", "processor_redis").Logger(),
	}
}

// Name implements scheduler.Processor.
func (r *RedisLatest) Name() string { return "redis_latest" }

type latestPrice struct {
	Metal           string `json:"metal"`
	Date            string `json:"date"`
	BenchmarkPrice  string `json:"benchmark_price"`
	FXRate          string `json:"fx_rate"`
	FXSource        string `json:"fx_source"`
	Theoretical     string `json:"theoretical_price"`
	LocalClosePrice string `json:"local_close_price,omitempty"`
	LocalPremiumPct string `json:"local_premium_pct,omitempty"`
	Status          string `json:"status"`
	RunID           string `json:"run_id"`
}

type latestRates struct {
	Date   string            `json:"date"`
	Rates  map[string]string `json:"rates"`
	Source string            `json:"source"`
	Status string            `json:"status"`
	RunID  string            `json:"run_id"`
}

// Process implements scheduler.Processor.
func (r *RedisLatest) Process(ctx context.Context, out scheduler.Outcome) error {
	switch {
	case out.Metal != nil && out.Metal.Success():
		rec := out.Metal.Record
		payload := latestPrice{
			Metal:          string(rec.Metal),
			Date:           storage.FormatDate(rec.Date),
			BenchmarkPrice: rec.BenchmarkPrice.String(),
			FXRate:         rec.FXRate.String(),
			FXSource:       out.Metal.FXSource,
			Theoretical:    rec.TheoreticalPrice.StringFixed(4),
			Status:         string(rec.Status),
			RunID:          out.Task.RunID.String(),
		}
		if rec.LocalClosePrice.Valid {
			payload.LocalClosePrice = rec.LocalClosePrice.Decimal.String()
		}
		if p := rec.LocalPremiumPct(); p.Valid {
			payload.LocalPremiumPct = p.Decimal.StringFixed(2)
		}
		return r.set(ctx, string(rec.Metal), payload)

	case out.FX != nil && out.FX.Success():
		rec := out.FX.Record
		payload := latestRates{
			Date:   storage.FormatDate(rec.Date),
			Rates:  map[string]string{},
			Source: rec.Source,
			Status: string(rec.Status),
			RunID:  out.Task.RunID.String(),
		}
		for key, v := range map[string]struct {
			valid bool
			value string
		}{
			"usd_cny": {rec.USDCNY.Valid, rec.USDCNY.Decimal.String()},
			"jpy_cny": {rec.JPYCNY.Valid, rec.JPYCNY.Decimal.String()},
			"eur_cny": {rec.EURCNY.Valid, rec.EURCNY.Decimal.String()},
		} {
			if v.valid {
				payload.Rates[key] = v.value
			}
		}
		return r.set(ctx, "fx", payload)
	}
	return nil
}

func (r *RedisLatest) set(ctx context.Context, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal latest %s: %w", name, err)
	}
	key := fmt.Sprintf("%s:latest:%s", r.prefix, name)
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	r.logger.Debug().Str("key", key).Msg("latest record cached")
	return nil
}

var _ scheduler.Processor = (*RedisLatest)(nil)
