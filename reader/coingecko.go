package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"coinview/config"
	"coinview/logger"
	"coinview/models"
)

const maxErrorBody = 4 << 10

// CoinGeckoReader fetches the /coins/markets listing.
type CoinGeckoReader struct {
	cfg     config.CoinGeckoConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// coinGeckoMarket is the wire shape of one /coins/markets entry. Numeric
// fields are pointers because the API returns null for coins it has no
// data for.
type coinGeckoMarket struct {
	ID                                string   `json:"id"`
	Symbol                            string   `json:"symbol"`
	Name                              string   `json:"name"`
	Image                             string   `json:"image"`
	CurrentPrice                      *float64 `json:"current_price"`
	MarketCap                         *float64 `json:"market_cap"`
	MarketCapRank                     *int     `json:"market_cap_rank"`
	PriceChangePercentage24h          *float64 `json:"price_change_percentage_24h"`
	PriceChangePercentage7dInCurrency *float64 `json:"price_change_percentage_7d_in_currency"`
	SparklineIn7d                     *struct {
		Price []float64 `json:"price"`
	} `json:"sparkline_in_7d"`
}

func NewCoinGeckoReader(cfg *config.Config, log *logger.Log) *CoinGeckoReader {
	if log == nil {
		log = logger.GetLogger()
	}

	r := &CoinGeckoReader{
		cfg:     cfg.Source.CoinGecko,
		client:  newHTTPClient(cfg),
		limiter: newLimiter(cfg.Source.RateLimit),
		log:     log,
	}

	log.WithComponent("coingecko_reader").WithFields(logger.Fields{
		"url":                cfg.Source.CoinGecko.URL,
		"currency":           cfg.Source.CoinGecko.Currency,
		"per_page":           cfg.Source.CoinGecko.PerPage,
		"max_conns_per_host": cfg.Source.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Source.Timeout,
	}).Info("coingecko reader initialized")

	return r
}

func (r *CoinGeckoReader) Name() string {
	return config.ProviderCoinGecko
}

// Fetch returns the markets ordered by market cap, as the API reports them.
func (r *CoinGeckoReader) Fetch(ctx context.Context) ([]models.MarketRecord, error) {
	log := r.log.WithComponent("coingecko_reader").WithFields(logger.Fields{"operation": "fetch_markets"})

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, wrapFetchError(r.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.marketsURL(), nil)
	if err != nil {
		return nil, wrapFetchError(r.Name(), err)
	}
	req.Header.Set("Accept", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", r.cfg.APIKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("request failed")
		return nil, wrapFetchError(r.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("unexpected response status")
		return nil, classifyStatus(r.log, r.Name(), resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapFetchError(r.Name(), err)
	}
	logger.LogPerformanceEntry(log, "coingecko_reader", "api_request", time.Since(start), logger.Fields{
		"status": resp.StatusCode,
		"bytes":  len(body),
	})

	var wire []coinGeckoMarket
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("coingecko: decode markets: %w: %w", models.ErrFetchFailed, err)
	}

	records := make([]models.MarketRecord, 0, len(wire))
	for _, m := range wire {
		records = append(records, m.toRecord())
	}

	logger.IncrementSnapshotRead(len(body))
	logger.LogDataFlowEntry(log, "coingecko", "view_store", len(records), "market_records")
	return records, nil
}

func (r *CoinGeckoReader) marketsURL() string {
	q := url.Values{}
	q.Set("vs_currency", r.cfg.Currency)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", strconv.Itoa(r.cfg.PerPage))
	q.Set("page", "1")
	q.Set("sparkline", strconv.FormatBool(r.cfg.Sparkline))
	q.Set("price_change_percentage", "7d")
	return strings.TrimRight(r.cfg.URL, "/") + "/coins/markets?" + q.Encode()
}

func (m coinGeckoMarket) toRecord() models.MarketRecord {
	rec := models.MarketRecord{
		ID:     m.ID,
		Name:   m.Name,
		Symbol: m.Symbol,
		Image:  m.Image,
	}
	if m.CurrentPrice != nil {
		rec.CurrentPrice = *m.CurrentPrice
	}
	if m.MarketCap != nil {
		rec.MarketCap = *m.MarketCap
	}
	if m.MarketCapRank != nil {
		rec.MarketCapRank = *m.MarketCapRank
	}
	if m.PriceChangePercentage24h != nil {
		rec.PriceChangePercentage24h = *m.PriceChangePercentage24h
	}
	if m.PriceChangePercentage7dInCurrency != nil {
		rec.PriceChangePercentage7d = *m.PriceChangePercentage7dInCurrency
	}
	if m.SparklineIn7d != nil {
		rec.Sparkline = m.SparklineIn7d.Price
	}
	return rec
}
