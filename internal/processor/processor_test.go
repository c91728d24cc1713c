package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gold-tracker/internal/collector"
	"gold-tracker/internal/fetcher"
	"gold-tracker/internal/scheduler"
	"gold-tracker/internal/storage"
)

var testDate = time.Date(2025, 11, 27, 0, 0, 0, 0, time.UTC)

func goldOutcome() scheduler.Outcome {
	rec := storage.PriceRecord{
		Metal:            storage.Gold,
		Date:             testDate,
		BenchmarkPrice:   decimal.RequireFromString("2650"),
		FXRate:           decimal.RequireFromString("7.25"),
		TheoreticalPrice: decimal.RequireFromString("617.6958"),
		LocalClosePrice:  decimal.NewNullDecimal(decimal.RequireFromString("620")),
		LocalAvailable:   true,
		Status:           storage.StatusValid,
	}
	started := time.Date(2025, 11, 27, 7, 30, 0, 0, time.UTC)
	return scheduler.Outcome{
		Task: scheduler.TaskResult{
			RunID:      uuid.New(),
			Kind:       scheduler.KindDaily,
			Success:    true,
			StartedAt:  started,
			FinishedAt: started.Add(2 * time.Second),
		},
		Date:  testDate,
		Metal: &collector.MetalResult{Metal: storage.Gold, Date: testDate, Record: &rec, FXSource: collector.FXSourceDirect},
	}
}

func fxOutcome() scheduler.Outcome {
	rec := storage.ExchangeRateRecord{
		Date:   testDate,
		USDCNY: decimal.NewNullDecimal(decimal.RequireFromString("7.0833")),
		EURCNY: decimal.NewNullDecimal(decimal.RequireFromString("8.2112")),
		Source: "chinamoney",
		Status: storage.StatusPartial,
	}
	return scheduler.Outcome{
		Task: scheduler.TaskResult{RunID: uuid.New(), Kind: scheduler.KindFX, Success: true},
		Date: testDate,
		FX:   &collector.FXResult{Date: testDate, Record: &rec, Missing: []fetcher.Pair{fetcher.PairJPYCNY}},
	}
}

func TestSummaryGold(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewSummary(&buf).Process(context.Background(), goldOutcome()))

	out := buf.String()
	assert.Contains(t, out, "2025-11-27 黄金价格数据")
	assert.Contains(t, out, "$2650.00/盎司")
	assert.Contains(t, out, "¥617.70/克")
	assert.Contains(t, out, "SGE Au99.99:")
	assert.Contains(t, out, "+0.37%")
	assert.Contains(t, out, "数据状态:       valid")
}

func TestSummaryNoTrade(t *testing.T) {
	var buf bytes.Buffer
	rec := *goldOutcome().Metal.Record
	rec.Metal = storage.Silver
	rec.LocalClosePrice = decimal.NullDecimal{}
	require.NoError(t, WritePriceSummary(&buf, rec))
	assert.Contains(t, buf.String(), "白银价格数据")
	assert.Contains(t, buf.String(), "无交易")
}

func TestSummarySkipsFailures(t *testing.T) {
	var buf bytes.Buffer
	out := goldOutcome()
	out.Metal.Err = &collector.Error{Kind: collector.KindPersistence, Err: errors.New("disk full")}
	require.NoError(t, NewSummary(&buf).Process(context.Background(), out))
	assert.Empty(t, buf.String())
}

func TestSummaryFX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewSummary(&buf).Process(context.Background(), fxOutcome()))
	assert.Contains(t, buf.String(), "7.0833")
	assert.Contains(t, buf.String(), "100JPY/CNY:  -")
}

func TestLogProcessorHandlesEveryShape(t *testing.T) {
	p := NewLog(zerolog.Nop())
	assert.NoError(t, p.Process(context.Background(), goldOutcome()))
	assert.NoError(t, p.Process(context.Background(), fxOutcome()))

	failed := goldOutcome()
	failed.Task.Success = false
	failed.Metal.Record = nil
	failed.Metal.Err = &collector.Error{Kind: collector.KindMandatorySource, Err: errors.New("quota")}
	assert.NoError(t, p.Process(context.Background(), failed))
}

type fakeRedis struct {
	values map[string][]byte
	ttl    time.Duration
	err    error
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	if f.values == nil {
		f.values = map[string][]byte{}
	}
	f.values[key] = value.([]byte)
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisLatestMetal(t *testing.T) {
	client := &fakeRedis{}
	p := NewRedisLatest(client, RedisOptions{KeyPrefix: "gt:", TTL: time.Hour}, zerolog.Nop())

	require.NoError(t, p.Process(context.Background(), goldOutcome()))
	raw, ok := client.values["gt:latest:gold"]
	require.True(t, ok)
	assert.Equal(t, time.Hour, client.ttl)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "2025-11-27", payload["date"])
	assert.Equal(t, "2650", payload["benchmark_price"])
	assert.Equal(t, "620", payload["local_close_price"])
	assert.Equal(t, "direct", payload["fx_source"])
}

func TestRedisLatestFX(t *testing.T) {
	client := &fakeRedis{}
	p := NewRedisLatest(client, RedisOptions{}, zerolog.Nop())

	require.NoError(t, p.Process(context.Background(), fxOutcome()))
	var payload latestRates
	require.NoError(t, json.Unmarshal(client.values["goldtracker:latest:fx"], &payload))
	assert.Equal(t, map[string]string{"usd_cny": "7.0833", "eur_cny": "8.2112"}, payload.Rates)
	assert.Equal(t, "partial", payload.Status)
}

func TestRedisLatestError(t *testing.T) {
	p := NewRedisLatest(&fakeRedis{err: errors.New("connection refused")}, RedisOptions{}, zerolog.Nop())
	assert.ErrorContains(t, p.Process(context.Background(), goldOutcome()), "connection refused")
}

func TestMetricsPusher(t *testing.T) {
	var (
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewMetricsPusher(MetricsOptions{URL: srv.URL, Job: "goldtracker"}, zerolog.Nop())
	if err := p.Process(context.Background(), goldOutcome()); err != nil {
		t.Fatalf("推送失败: %v", err)
	}

	if method != http.MethodPut {
		t.Fatalf("期望 PUT, 实际 %s", method)
	}
	if !strings.Contains(path, "/metrics/job/goldtracker/task/daily") {
		t.Fatalf("分组路径错误: %s", path)
	}
	if !strings.Contains(body, "goldtracker_task_success") || !strings.Contains(body, "goldtracker_price") {
		t.Fatal("请求体缺少指标")
	}
}

func TestMetricsPusherServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewMetricsPusher(MetricsOptions{URL: srv.URL}, zerolog.Nop())
	if err := p.Process(context.Background(), fxOutcome()); err == nil {
		t.Fatal("服务端错误应返回失败")
	}
}
