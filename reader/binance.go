package reader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"coinview/config"
	"coinview/logger"
	"coinview/models"
)

// binanceTooManyRequests is the API error code Binance returns alongside
// HTTP 429.
const binanceTooManyRequests = -1003

// BinanceReader builds market records from the spot 24h ticker. Binance has
// no market cap, so records are ranked by 24h quote volume instead.
type BinanceReader struct {
	cfg     config.BinanceConfig
	client  *binance.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewBinanceReader(cfg *config.Config, log *logger.Log) *BinanceReader {
	if log == nil {
		log = logger.GetLogger()
	}

	client := binance.NewClient(cfg.Source.Binance.APIKey, cfg.Source.Binance.SecretKey)
	client.HTTPClient = newHTTPClient(cfg)
	if cfg.Source.Binance.URL != "" {
		client.BaseURL = strings.TrimRight(cfg.Source.Binance.URL, "/")
	}

	r := &BinanceReader{
		cfg:     cfg.Source.Binance,
		client:  client,
		limiter: newLimiter(cfg.Source.RateLimit),
		log:     log,
	}

	log.WithComponent("binance_reader").WithFields(logger.Fields{
		"url":         client.BaseURL,
		"quote_asset": cfg.Source.Binance.QuoteAsset,
		"limit":       cfg.Source.Binance.Limit,
		"timeout":     cfg.Source.Timeout,
	}).Info("binance reader initialized")

	return r
}

func (r *BinanceReader) Name() string {
	return config.ProviderBinance
}

// Fetch lists every ticker quoted in the configured asset, ranked by quote
// volume and capped at the configured limit.
func (r *BinanceReader) Fetch(ctx context.Context) ([]models.MarketRecord, error) {
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{"operation": "fetch_tickers"})

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, wrapFetchError(r.Name(), err)
	}

	start := time.Now()
	stats, err := r.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch tickers")
		return nil, r.classify(err)
	}
	logger.LogPerformanceEntry(log, "binance_reader", "api_request", time.Since(start), logger.Fields{
		"tickers": len(stats),
	})

	type ranked struct {
		rec    models.MarketRecord
		volume decimal.Decimal
	}
	quote := strings.ToUpper(r.cfg.QuoteAsset)
	rows := make([]ranked, 0, len(stats))
	for _, s := range stats {
		if s == nil || !strings.HasSuffix(s.Symbol, quote) || len(s.Symbol) == len(quote) {
			continue
		}
		base := strings.TrimSuffix(s.Symbol, quote)
		price := parseDecimal(s.LastPrice)
		volume := parseDecimal(s.QuoteVolume)
		if price.IsZero() {
			continue
		}
		rows = append(rows, ranked{
			rec: models.MarketRecord{
				ID:                       strings.ToLower(s.Symbol),
				Name:                     base,
				Symbol:                   strings.ToLower(base),
				CurrentPrice:             price.InexactFloat64(),
				MarketCap:                volume.InexactFloat64(),
				PriceChangePercentage24h: parseDecimal(s.PriceChangePercent).InexactFloat64(),
			},
			volume: volume,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].volume.GreaterThan(rows[j].volume)
	})
	if r.cfg.Limit > 0 && len(rows) > r.cfg.Limit {
		rows = rows[:r.cfg.Limit]
	}

	records := make([]models.MarketRecord, len(rows))
	for i, row := range rows {
		row.rec.MarketCapRank = i + 1
		records[i] = row.rec
	}

	logger.IncrementSnapshotRead(len(stats))
	logger.LogDataFlowEntry(log, "binance", "view_store", len(records), "market_records")
	return records, nil
}

func (r *BinanceReader) classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == binanceTooManyRequests || detectLimit(r.Name(), apiErr.Message) {
			return classifyStatus(r.log, r.Name(), 429, apiErr.Message)
		}
		return fmt.Errorf("binance: api error %d: %w: %w", apiErr.Code, models.ErrFetchFailed, err)
	}
	return wrapFetchError(r.Name(), err)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
