package view

import (
	"sort"
	"strings"

	"coinview/models"
)

// ApplySort returns a new slice ordered by the descending value of key.
// The sort is stable, so records with equal values keep their relative
// order. SortNone returns an unchanged copy.
func ApplySort(records []models.MarketRecord, key models.SortKey) []models.MarketRecord {
	out := models.CloneRecords(records)
	if key == models.SortNone {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return key.Value(out[i]) > key.Value(out[j])
	})
	return out
}

// ClearSort returns the pristine snapshot unchanged.
func ClearSort(pristine []models.MarketRecord) []models.MarketRecord {
	return models.CloneRecords(pristine)
}

// Search keeps the records whose display name contains query, ignoring case.
// An empty or blank query matches everything.
func Search(records []models.MarketRecord, query string) []models.MarketRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return models.CloneRecords(records)
	}

	out := make([]models.MarketRecord, 0)
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Name), q) {
			out = append(out, r)
		}
	}
	return out
}
