package models

import "time"

// MarketRecord is one coin as reported by a market source at fetch time.
// Records are never mutated after a fetch; a new fetch replaces them wholesale.
type MarketRecord struct {
	ID                       string    `json:"id"`
	Name                     string    `json:"name"`
	Symbol                   string    `json:"symbol"`
	Image                    string    `json:"image"`
	CurrentPrice             float64   `json:"current_price"`
	MarketCap                float64   `json:"market_cap"`
	MarketCapRank            int       `json:"market_cap_rank"`
	PriceChangePercentage24h float64   `json:"price_change_percentage_24h"`
	PriceChangePercentage7d  float64   `json:"price_change_percentage_7d"`
	Sparkline                []float64 `json:"sparkline,omitempty"`
}

// Snapshot is the full, ordered result of a single fetch.
type Snapshot struct {
	CycleID   string         `json:"cycle_id"`
	Source    string         `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
	Records   []MarketRecord `json:"records"`
}

// CloneRecords returns a shallow copy of records so callers can reorder it
// without touching the original backing array.
func CloneRecords(records []MarketRecord) []MarketRecord {
	out := make([]MarketRecord, len(records))
	copy(out, records)
	return out
}
