package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func sgeServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != sgeQuotationsPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("instid") == "" {
			t.Errorf("instid 参数缺失")
		}
		_, _ = w.Write([]byte(body))
	}))
}

func goldSGE(baseURL string) *SGE {
	return NewSGE(SGEOptions{
		BaseURL:   baseURL,
		Product:   "Au99.99",
		UnitGrams: decimal.NewFromInt(1),
		MinPrice:  decimal.NewFromInt(300),
		MaxPrice:  decimal.NewFromInt(1500),
		HTTP:      fastHTTP(),
	}, noopLogger())
}

func TestSGELastValidPrice(t *testing.T) {
	srv := sgeServer(t, `{"times":["20:00","20:01","20:02"],"prices":["944.45","950.10","",  "0"],"heyue":"Au99.99","delaystr":"2025年11月27日 15:30:00"}`)
	defer srv.Close()

	q := goldSGE(srv.URL).FetchLocal(context.Background(), mustDate("2025-11-27"))
	if !q.OK() || !q.Available {
		t.Fatalf("应返回可用价格: %+v", q)
	}
	if !q.Price.Decimal.Equal(decimal.RequireFromString("950.10")) {
		t.Fatalf("应取最后一个有效价格 950.10, 实际 %s", q.Price.Decimal)
	}
}

func TestSGENoTrade(t *testing.T) {
	srv := sgeServer(t, `{"times":[],"prices":[],"heyue":"Au99.99"}`)
	defer srv.Close()

	q := goldSGE(srv.URL).FetchLocal(context.Background(), mustDate("2025-11-29"))
	if !q.OK() {
		t.Fatalf("无交易不应视为错误: %v", q.Err)
	}
	if q.Available || q.Price.Valid {
		t.Fatal("无交易时价格应不可用")
	}
}

func TestSGEOutOfRange(t *testing.T) {
	srv := sgeServer(t, `{"prices":["12","99999"],"heyue":"Au99.99"}`)
	defer srv.Close()

	if q := goldSGE(srv.URL).FetchLocal(context.Background(), mustDate("2025-11-27")); q.OK() {
		t.Fatal("超出合理范围的价格应失败")
	}
}

func TestSGEDateMismatch(t *testing.T) {
	srv := sgeServer(t, `{"prices":["944.45"],"heyue":"Au99.99","delaystr":"2025年11月26日 15:30:00"}`)
	defer srv.Close()

	if q := goldSGE(srv.URL).FetchLocal(context.Background(), mustDate("2025-11-27")); q.OK() {
		t.Fatal("行情日期与目标日期不一致时应失败")
	}
}

func TestSGESilverPerKilogram(t *testing.T) {
	srv := sgeServer(t, `{"prices":["7650"],"heyue":"Ag99.99"}`)
	defer srv.Close()

	s := NewSGE(SGEOptions{
		BaseURL:   srv.URL,
		Product:   "Ag99.99",
		UnitGrams: decimal.NewFromInt(1000),
		MinPrice:  decimal.NewFromInt(2000),
		MaxPrice:  decimal.NewFromInt(40000),
		HTTP:      fastHTTP(),
	}, noopLogger())

	q := s.FetchLocal(context.Background(), mustDate("2025-11-27"))
	if !q.OK() || !q.Available {
		t.Fatalf("白银报价应可用: %+v", q)
	}
	if !q.Price.Decimal.Equal(decimal.RequireFromString("7.65")) {
		t.Fatalf("期望每克 7.65, 实际 %s", q.Price.Decimal)
	}
}

func TestSGEHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if q := goldSGE(srv.URL).FetchLocal(context.Background(), mustDate("2025-11-27")); q.OK() {
		t.Fatal("HTTP 403 应返回错误")
	}
}
