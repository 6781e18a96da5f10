package reader

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"coinview/config"
	"coinview/logger"
	"coinview/models"
)

// Source fetches a full market snapshot. Errors wrap models.ErrRateLimited
// when the source refused the request for volume, and models.ErrFetchFailed
// otherwise.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.MarketRecord, error)
}

// New builds the source selected by cfg.Source.Provider.
func New(cfg *config.Config, log *logger.Log) (Source, error) {
	switch cfg.Source.Provider {
	case config.ProviderCoinGecko:
		return NewCoinGeckoReader(cfg, log), nil
	case config.ProviderBinance:
		return NewBinanceReader(cfg, log), nil
	default:
		return nil, fmt.Errorf("unsupported source provider %q", cfg.Source.Provider)
	}
}

func newHTTPClient(cfg *config.Config) *http.Client {
	pool := cfg.Source.ConnectionPool
	transport := &http.Transport{
		Proxy:              http.ProxyFromEnvironment,
		MaxIdleConns:       pool.MaxIdleConns,
		MaxConnsPerHost:    pool.MaxConnsPerHost,
		IdleConnTimeout:    pool.IdleConnTimeout,
		DisableCompression: false,
	}

	return &http.Client{
		Transport: userAgentTransport{agent: userAgent(cfg), base: transport},
		Timeout:   cfg.Source.Timeout,
	}
}

func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

func userAgent(cfg *config.Config) string {
	return fmt.Sprintf("%s/%s", cfg.App.Name, cfg.App.Version)
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}
