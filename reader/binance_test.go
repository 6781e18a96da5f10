package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"coinview/config"
	"coinview/logger"
	"coinview/models"
)

const tickerBody = `[
  {"symbol":"BTCUSDT","priceChangePercent":"-1.200","lastPrice":"64000.10","quoteVolume":"900000000.5"},
  {"symbol":"ETHUSDT","priceChangePercent":"2.5","lastPrice":"3100.00","quoteVolume":"950000000"},
  {"symbol":"ETHBTC","priceChangePercent":"0.1","lastPrice":"0.05","quoteVolume":"100"},
  {"symbol":"DEADUSDT","priceChangePercent":"0","lastPrice":"0.00000000","quoteVolume":"0"},
  {"symbol":"SOLUSDT","priceChangePercent":"5","lastPrice":"150.5","quoteVolume":"1000"}
]`

func TestBinanceFetchRanksByQuoteVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tickerBody))
	}))
	defer srv.Close()

	cfg := testConfig(config.ProviderBinance, srv.URL)
	cfg.Source.Binance.Limit = 2
	r := NewBinanceReader(cfg, logger.Logger())

	records, err := r.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(records), records)
	}
	if records[0].ID != "ethusdt" || records[0].MarketCapRank != 1 {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[1].ID != "btcusdt" || records[1].Name != "BTC" || records[1].Symbol != "btc" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
	if records[1].PriceChangePercentage24h != -1.2 || records[1].CurrentPrice != 64000.1 {
		t.Errorf("numeric fields not parsed: %+v", records[1])
	}
}

func TestBinanceFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests; current limit is 6000 request weight per 1 MINUTE."}`))
	}))
	defer srv.Close()

	r := NewBinanceReader(testConfig(config.ProviderBinance, srv.URL), logger.Logger())
	_, err := r.Fetch(context.Background())
	if !errors.Is(err, models.ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestBinanceFetchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	r := NewBinanceReader(testConfig(config.ProviderBinance, srv.URL), logger.Logger())
	_, err := r.Fetch(context.Background())
	if !errors.Is(err, models.ErrFetchFailed) || errors.Is(err, models.ErrRateLimited) {
		t.Fatalf("expected generic fetch failure, got %v", err)
	}
}
