package view

import (
	"time"

	"coinview/models"
)

// EventType names a store mutation.
type EventType string

const (
	EventSnapshotApplied  EventType = "snapshot_applied"
	EventSortChanged      EventType = "sort_changed"
	EventPageChanged      EventType = "page_changed"
	EventSelectionChanged EventType = "selection_changed"
	EventNotice           EventType = "notice"
	EventBusyChanged      EventType = "busy_changed"
)

// Event is delivered to subscribers after each mutation. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType            `json:"type"`
	At        time.Time            `json:"at"`
	Page      *Page                `json:"page,omitempty"`
	Selection *models.MarketRecord `json:"selection,omitempty"`
	Visible   bool                 `json:"visible,omitempty"`
	Notice    *models.Notice       `json:"notice,omitempty"`
	Busy      bool                 `json:"busy,omitempty"`
}
