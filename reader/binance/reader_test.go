package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"p2pflow/config"
	"p2pflow/models"
)

func testConfig(url string) *config.Config {
	cfg := &config.Config{}
	cfg.Source.Binance.URL = url
	cfg.Source.Binance.Asset = "USDT"
	cfg.Source.Binance.Fiat = "VES"
	cfg.Source.Binance.Rows = 20
	cfg.Source.Binance.Shape = "adv"
	cfg.Reader.Timeout = 5 * time.Second
	return cfg
}

func TestFetchPageSuccess(t *testing.T) {
	var gotBody searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"000000","message":null,"data":[{"adv":{"price":"36.50"}},{"adv":{"price":"36.40"}}],"success":true}`))
	}))
	defer server.Close()

	reader := NewReader(testConfig(server.URL))
	listings := reader.FetchPage(context.Background(), 1, models.SideDemand)

	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}
	if listings[0].Source != SourceName {
		t.Errorf("expected source %q, got %q", SourceName, listings[0].Source)
	}

	if gotBody.Page != 1 || gotBody.Rows != 20 {
		t.Errorf("unexpected paging in request: %+v", gotBody)
	}
	if gotBody.Asset != "USDT" || gotBody.Fiat != "VES" {
		t.Errorf("unexpected market in request: %+v", gotBody)
	}
	if gotBody.TradeType != "SELL" {
		t.Errorf("demand side must query SELL, got %q", gotBody.TradeType)
	}
	if gotBody.PayTypes == nil {
		t.Errorf("payTypes must serialize as an empty array, not null")
	}
}

func TestFetchPageSupplyTradeType(t *testing.T) {
	var gotBody searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"code":"000000","data":[],"success":true}`))
	}))
	defer server.Close()

	reader := NewReader(testConfig(server.URL))
	reader.FetchPage(context.Background(), 3, models.SideSupply)

	if gotBody.TradeType != "BUY" {
		t.Errorf("supply side must query BUY, got %q", gotBody.TradeType)
	}
	if gotBody.Page != 3 {
		t.Errorf("expected page 3, got %d", gotBody.Page)
	}
}

func TestFetchPageServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	reader := NewReader(testConfig(server.URL))
	if listings := reader.FetchPage(context.Background(), 1, models.SideDemand); len(listings) != 0 {
		t.Errorf("expected empty page on server error, got %d listings", len(listings))
	}
}

func TestFetchPageMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":`))
	}))
	defer server.Close()

	reader := NewReader(testConfig(server.URL))
	if listings := reader.FetchPage(context.Background(), 1, models.SideDemand); len(listings) != 0 {
		t.Errorf("expected empty page on undecodable body, got %d listings", len(listings))
	}
}

func TestFetchPageErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"100001","message":"rate limited","data":null,"success":false}`))
	}))
	defer server.Close()

	reader := NewReader(testConfig(server.URL))
	if listings := reader.FetchPage(context.Background(), 1, models.SideDemand); len(listings) != 0 {
		t.Errorf("expected empty page on error envelope, got %d listings", len(listings))
	}
}

func TestFetchPageUnreachable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Reader.Timeout = 500 * time.Millisecond

	reader := NewReader(cfg)
	if listings := reader.FetchPage(context.Background(), 1, models.SideDemand); len(listings) != 0 {
		t.Errorf("expected empty page when endpoint is unreachable, got %d listings", len(listings))
	}
}

func TestFetchPageInvalidPage(t *testing.T) {
	reader := NewReader(testConfig("http://unused.invalid"))
	if listings := reader.FetchPage(context.Background(), 0, models.SideDemand); len(listings) != 0 {
		t.Errorf("expected empty result for page 0")
	}
}
