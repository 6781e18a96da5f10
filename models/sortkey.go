package models

import (
	"fmt"
	"strings"
)

// SortKey names the record field the working dataset is ordered by.
type SortKey string

const (
	SortNone           SortKey = ""
	SortMarketCapRank  SortKey = "market_cap_rank"
	SortPriceChange24h SortKey = "price_change_percentage_24h"
	SortCurrentPrice   SortKey = "current_price"
)

// SortKeys lists the selectable keys in display order.
var SortKeys = []SortKey{SortMarketCapRank, SortPriceChange24h, SortCurrentPrice}

// ParseSortKey accepts the canonical field name, "none" or an empty string.
func ParseSortKey(s string) (SortKey, error) {
	switch key := SortKey(strings.ToLower(strings.TrimSpace(s))); key {
	case SortNone, "none":
		return SortNone, nil
	case SortMarketCapRank, SortPriceChange24h, SortCurrentPrice:
		return key, nil
	default:
		return SortNone, fmt.Errorf("%w: %q", ErrUnknownSortKey, s)
	}
}

// Value returns the numeric field of r the key orders by. It panics on keys
// that ParseSortKey would reject.
func (k SortKey) Value(r MarketRecord) float64 {
	switch k {
	case SortMarketCapRank:
		return float64(r.MarketCapRank)
	case SortPriceChange24h:
		return r.PriceChangePercentage24h
	case SortCurrentPrice:
		return r.CurrentPrice
	default:
		panic(fmt.Sprintf("models: no sort value for key %q", string(k)))
	}
}

// Label is the short tab title shown next to the list.
func (k SortKey) Label() string {
	switch k {
	case SortMarketCapRank:
		return "Market Cap"
	case SortPriceChange24h:
		return "24h %"
	case SortCurrentPrice:
		return "Price"
	default:
		return "None"
	}
}

func (k SortKey) String() string {
	if k == SortNone {
		return "none"
	}
	return string(k)
}
