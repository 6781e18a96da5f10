package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"coinview/internal/view"
	"coinview/models"
)

func TestFormatPrice(t *testing.T) {
	cases := map[float64]string{
		64000.5:     "$64,000.50",
		1234567.891: "$1,234,567.89",
		1:           "$1.00",
		0.000123:    "$0.000123",
		0.5:         "$0.5",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatPrice(in), "FormatPrice(%v)", in)
	}
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "+2.35%", FormatPercent(2.345))
	assert.Equal(t, "-1.23%", FormatPercent(-1.234))
	assert.Equal(t, "0.00%", FormatPercent(0))
}

func TestFormatCompact(t *testing.T) {
	assert.Equal(t, "$1.25T", FormatCompact(1.25e12))
	assert.Equal(t, "$830.00B", FormatCompact(830e9))
	assert.Equal(t, "$12.50M", FormatCompact(12.5e6))
	assert.Equal(t, "$999.00", FormatCompact(999))
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "▁▄█", Sparkline([]float64{1, 2, 3}, 10))
	assert.Equal(t, "", Sparkline(nil, 10))
	assert.Len(t, []rune(Sparkline(make([]float64, 168), 20)), 20)
	assert.Equal(t, "▄▄", Sparkline([]float64{5, 5}, 10))
}

func TestPageRendersRecords(t *testing.T) {
	page := view.Page{
		Page:         2,
		TotalPages:   3,
		TotalRecords: 120,
		SortKey:      models.SortCurrentPrice,
		Busy:         true,
		Records: []models.MarketRecord{
			{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc", CurrentPrice: 64000, MarketCapRank: 1, PriceChangePercentage24h: 1.5},
			{ID: "ethereum", Name: "Ethereum", Symbol: "eth", CurrentPrice: 3100, MarketCapRank: 2, PriceChangePercentage24h: -0.4},
		},
	}

	out := Page(page)
	for _, want := range []string{"Page 2/3", "Sort: Price", "refreshing", "Bitcoin", "BTC", "$64,000.00", "+1.50%", "-0.40%"} {
		assert.True(t, strings.Contains(out, want), "output missing %q:\n%s", want, out)
	}
}

func TestEmptyPageAndInactiveSearch(t *testing.T) {
	assert.Contains(t, Page(view.Page{Page: 1, TotalPages: 1}), "No market data yet.")
	assert.Empty(t, Search(view.SearchResult{Query: " "}))
	assert.Contains(t, Search(view.SearchResult{Query: "zzz", Active: true}), `No coins match "zzz"`)
}

func TestDetail(t *testing.T) {
	chart := view.NewChart(models.MarketRecord{Name: "Bitcoin", Symbol: "btc", CurrentPrice: 64000, PriceChangePercentage7d: -3.2, Sparkline: []float64{60000, 65000, 64000}})
	out := Detail(chart)
	assert.Contains(t, out, "Bitcoin (BTC)")
	assert.Contains(t, out, "-3.20%")
	assert.Contains(t, out, "low $60,000.00")

	assert.Contains(t, Detail(view.Chart{Name: "X", Symbol: "X"}), "No chart data.")
}

func TestNotice(t *testing.T) {
	out := Notice(models.NoticeFor(models.ErrRateLimited, time.Time{}))
	assert.Contains(t, out, "Too Many Requests")
}
