package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coinview/config"
	"coinview/logger"
	"coinview/models"
)

func testConfig(provider, url string) *config.Config {
	cfg := config.Default()
	cfg.Source.Provider = provider
	cfg.Source.Timeout = 2 * time.Second
	cfg.Source.RateLimit = config.RateLimitConfig{}
	cfg.Source.CoinGecko.URL = url
	cfg.Source.Binance.URL = url
	return &cfg
}

const marketsBody = `[
  {
    "id": "bitcoin", "symbol": "btc", "name": "Bitcoin",
    "image": "https://assets.coingecko.com/coins/images/1/large/bitcoin.png",
    "current_price": 64000.5, "market_cap": 1260000000000, "market_cap_rank": 1,
    "price_change_percentage_24h": -1.25,
    "price_change_percentage_7d_in_currency": 3.5,
    "sparkline_in_7d": {"price": [63000, 64000.5, 62000]}
  },
  {
    "id": "newcoin", "symbol": "new", "name": "New Coin", "image": "",
    "current_price": 0.01, "market_cap": null, "market_cap_rank": null,
    "price_change_percentage_24h": null,
    "price_change_percentage_7d_in_currency": null,
    "sparkline_in_7d": null
  }
]`

func TestCoinGeckoFetchDecodesMarkets(t *testing.T) {
	var gotQuery, gotKey, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/markets" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-cg-demo-api-key")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(marketsBody))
	}))
	defer srv.Close()

	cfg := testConfig(config.ProviderCoinGecko, srv.URL)
	cfg.Source.CoinGecko.APIKey = "demo-key"
	r := NewCoinGeckoReader(cfg, logger.Logger())

	records, err := r.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	btc := records[0]
	if btc.ID != "bitcoin" || btc.MarketCapRank != 1 || btc.CurrentPrice != 64000.5 {
		t.Errorf("unexpected bitcoin record: %+v", btc)
	}
	if btc.PriceChangePercentage7d != 3.5 || len(btc.Sparkline) != 3 {
		t.Errorf("7d fields not decoded: %+v", btc)
	}

	fresh := records[1]
	if fresh.MarketCap != 0 || fresh.MarketCapRank != 0 || fresh.PriceChangePercentage24h != 0 || fresh.Sparkline != nil {
		t.Errorf("null fields should decode to zero values: %+v", fresh)
	}

	if gotKey != "demo-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if gotAgent != "coinview/dev" {
		t.Errorf("user agent = %q", gotAgent)
	}
	for _, want := range []string{"vs_currency=usd", "per_page=250", "sparkline=true", "price_change_percentage=7d"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestCoinGeckoFetchClassifiesErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"status":{"error_code":429}}`, models.ErrRateLimited},
		{"server error", http.StatusBadGateway, "bad gateway", models.ErrFetchFailed},
		{"bad json", http.StatusOK, "{not json", models.ErrFetchFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				w.Write([]byte(c.body))
			}))
			defer srv.Close()

			r := NewCoinGeckoReader(testConfig(config.ProviderCoinGecko, srv.URL), logger.Logger())
			_, err := r.Fetch(context.Background())
			if !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
		})
	}
}

func TestCoinGeckoFetchHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	r := NewCoinGeckoReader(testConfig(config.ProviderCoinGecko, srv.URL), logger.Logger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Fetch(ctx)
	if !errors.Is(err, models.ErrFetchFailed) {
		t.Fatalf("expected fetch failure, got %v", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	log := logger.Logger()
	src, err := New(testConfig(config.ProviderCoinGecko, "http://localhost"), log)
	if err != nil || src.Name() != "coingecko" {
		t.Fatalf("coingecko source: %v %v", src, err)
	}
	src, err = New(testConfig(config.ProviderBinance, "http://localhost"), log)
	if err != nil || src.Name() != "binance" {
		t.Fatalf("binance source: %v %v", src, err)
	}
	if _, err := New(testConfig("kraken", ""), log); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
