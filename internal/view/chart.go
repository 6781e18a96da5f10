package view

import (
	"strings"

	"coinview/models"
)

// Chart is the detail payload for the selected record.
type Chart struct {
	ID                      string    `json:"id"`
	Name                    string    `json:"name"`
	Symbol                  string    `json:"symbol"`
	Image                   string    `json:"image"`
	CurrentPrice            float64   `json:"current_price"`
	PriceChangePercentage7d float64   `json:"price_change_percentage_7d"`
	Sparkline               []float64 `json:"sparkline"`
	Low                     float64   `json:"low"`
	High                    float64   `json:"high"`
}

// NewChart builds the chart payload for r. Low and High are zero when the
// record carries no sparkline.
func NewChart(r models.MarketRecord) Chart {
	c := Chart{
		ID:                      r.ID,
		Name:                    r.Name,
		Symbol:                  strings.ToUpper(r.Symbol),
		Image:                   r.Image,
		CurrentPrice:            r.CurrentPrice,
		PriceChangePercentage7d: r.PriceChangePercentage7d,
		Sparkline:               append([]float64(nil), r.Sparkline...),
	}
	for i, v := range r.Sparkline {
		if i == 0 || v < c.Low {
			c.Low = v
		}
		if i == 0 || v > c.High {
			c.High = v
		}
	}
	return c
}

// Chart returns the chart payload for the current selection.
func (s *Store) Chart() (Chart, bool) {
	rec, ok := s.Selected()
	if !ok {
		return Chart{}, false
	}
	return NewChart(rec), true
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
