package reader

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"coinview/internal/metrics"
	"coinview/logger"
	"coinview/models"
)

// detectLimit reports whether msg from source signals a rate limit. Each
// provider words it differently.
func detectLimit(source, msg string) bool {
	lowerMsg := strings.ToLower(msg)
	switch strings.ToLower(source) {
	case "coingecko":
		return strings.Contains(lowerMsg, "rate limit") ||
			strings.Contains(lowerMsg, "too many requests") ||
			strings.Contains(lowerMsg, "throttled")
	case "binance":
		return strings.Contains(lowerMsg, "too many requests") ||
			strings.Contains(lowerMsg, "too much request weight") ||
			strings.Contains(lowerMsg, "rate limit")
	default:
		return strings.Contains(lowerMsg, "rate limit") || strings.Contains(lowerMsg, "too many requests")
	}
}

// classifyStatus maps a non-2xx response onto the sentinel errors.
func classifyStatus(log *logger.Log, source string, status int, body string) error {
	if status == http.StatusTooManyRequests || detectLimit(source, body) {
		metrics.ReportRateLimitExceeded(log, source, fmt.Sprintf("status %d", status))
		return fmt.Errorf("%s: status %d: %w", source, status, models.ErrRateLimited)
	}
	return fmt.Errorf("%s: unexpected status %d: %w", source, status, models.ErrFetchFailed)
}

// wrapFetchError makes sure err carries one of the fetch sentinels.
func wrapFetchError(source string, err error) error {
	if errors.Is(err, models.ErrRateLimited) || errors.Is(err, models.ErrFetchFailed) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", source, models.ErrFetchFailed, err)
}
