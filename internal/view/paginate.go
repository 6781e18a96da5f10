package view

import "coinview/models"

// DefaultPageSize matches the list length shown per page in the market view.
const DefaultPageSize = 50

// Paginate returns page (1-indexed) of records. Pages outside the dataset
// yield an empty slice. size must be positive.
func Paginate(records []models.MarketRecord, page, size int) []models.MarketRecord {
	if size <= 0 {
		panic("view: page size must be positive")
	}
	if page < 1 {
		return []models.MarketRecord{}
	}

	start := (page - 1) * size
	if start >= len(records) {
		return []models.MarketRecord{}
	}
	end := start + size
	if end > len(records) {
		end = len(records)
	}
	return models.CloneRecords(records[start:end])
}

// TotalPages is ceil(len(records)/size) and never less than 1.
func TotalPages(records []models.MarketRecord, size int) int {
	if size <= 0 {
		panic("view: page size must be positive")
	}
	n := (len(records) + size - 1) / size
	if n < 1 {
		return 1
	}
	return n
}

func clampPage(page, total int) int {
	if page < 1 {
		return 1
	}
	if page > total {
		return total
	}
	return page
}
