package view

import (
	"fmt"
	"sync"
	"time"

	"coinview/logger"
	"coinview/models"
)

const defaultNoticeHistory = 50

// Page is the rendered slice of the working dataset plus the state needed to
// draw the list header and pager.
type Page struct {
	Records      []models.MarketRecord `json:"records"`
	Page         int                   `json:"page"`
	TotalPages   int                   `json:"total_pages"`
	PageSize     int                   `json:"page_size"`
	TotalRecords int                   `json:"total_records"`
	SortKey      models.SortKey        `json:"sort_key"`
	Busy         bool                  `json:"busy"`
	Source       string                `json:"source,omitempty"`
	CycleID      string                `json:"cycle_id,omitempty"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// SearchResult is the search overlay. Active is false for a blank query, in
// which case no result list should be shown at all.
type SearchResult struct {
	Query   string                `json:"query"`
	Active  bool                  `json:"active"`
	Records []models.MarketRecord `json:"records"`
}

// Options configures a Store.
type Options struct {
	PageSize      int
	NoticeHistory int
	Now           func() time.Time
	Log           *logger.Log
}

// Store holds the view state for one market list: the pristine snapshot, the
// working (sorted) snapshot, the active sort key, the current page, the
// selected record and raised notices.
//
// Every user or network trigger maps onto exactly one mutating method. Reads
// are safe from any goroutine. Subscribers are called after the mutation is
// visible, in mutation order, and must not call mutating methods themselves.
type Store struct {
	mu          sync.RWMutex
	pageSize    int
	pristine    []models.MarketRecord
	working     []models.MarketRecord
	sortKey     models.SortKey
	page        int
	selected    *models.MarketRecord
	busy        bool
	notices     []models.Notice
	noticeLimit int
	source      string
	cycleID     string
	updatedAt   time.Time

	now func() time.Time
	log *logger.Log

	dispatchMu sync.Mutex
	subMu      sync.RWMutex
	subs       map[uint64]func(Event)
	nextSub    uint64
}

// NewStore builds an empty store on page 1 with no active sort.
func NewStore(opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.NoticeHistory <= 0 {
		opts.NoticeHistory = defaultNoticeHistory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}

	return &Store{
		pageSize:    opts.PageSize,
		pristine:    []models.MarketRecord{},
		working:     []models.MarketRecord{},
		page:        1,
		noticeLimit: opts.NoticeHistory,
		now:         opts.Now,
		log:         opts.Log,
		subs:        make(map[uint64]func(Event)),
	}
}

// PageSize reports the fixed page size.
func (s *Store) PageSize() int {
	return s.pageSize
}

// ApplySnapshot replaces the pristine and working datasets with a fresh
// fetch. An active sort key is re-applied to the new data and the current
// page is clamped to the new page count.
func (s *Store) ApplySnapshot(snap models.Snapshot) Page {
	return *s.mutate(func() Event {
		s.pristine = models.CloneRecords(snap.Records)
		s.working = ApplySort(s.pristine, s.sortKey)
		s.page = clampPage(s.page, TotalPages(s.working, s.pageSize))
		s.source = snap.Source
		s.cycleID = snap.CycleID
		s.updatedAt = snap.FetchedAt
		if s.updatedAt.IsZero() {
			s.updatedAt = s.now()
		}

		s.log.WithComponent("view_store").WithFields(logger.Fields{
			"records":  len(s.pristine),
			"sort_key": s.sortKey.String(),
			"page":     s.page,
			"cycle_id": snap.CycleID,
		}).Debug("snapshot applied")

		page := s.pageLocked()
		return Event{Type: EventSnapshotApplied, Page: &page}
	}).Page
}

// RecordFailure raises exactly one notice for a failed fetch. The dataset,
// sort key, page and selection are left as they were.
func (s *Store) RecordFailure(err error) models.Notice {
	return *s.mutate(func() Event {
		notice := models.NoticeFor(err, s.now())
		s.notices = append(s.notices, notice)
		if len(s.notices) > s.noticeLimit {
			s.notices = append([]models.Notice(nil), s.notices[len(s.notices)-s.noticeLimit:]...)
		}

		s.log.WithComponent("view_store").WithError(err).WithFields(logger.Fields{
			"notice": string(notice.Kind),
		}).Debug("notice raised")

		return Event{Type: EventNotice, Notice: &notice}
	}).Notice
}

// ToggleSort activates key, or clears the sort when key is already active or
// is SortNone. The page number is kept and clamped. Keys outside
// models.SortKeys are a programming error and panic.
func (s *Store) ToggleSort(key models.SortKey) Page {
	if key != models.SortNone {
		if _, err := models.ParseSortKey(string(key)); err != nil {
			panic(fmt.Sprintf("view: %v", err))
		}
	}

	return *s.mutate(func() Event {
		if key == models.SortNone || key == s.sortKey {
			s.sortKey = models.SortNone
			s.working = ClearSort(s.pristine)
		} else {
			s.sortKey = key
			s.working = ApplySort(s.pristine, key)
		}
		s.page = clampPage(s.page, TotalPages(s.working, s.pageSize))

		page := s.pageLocked()
		return Event{Type: EventSortChanged, Page: &page}
	}).Page
}

// SetPage moves to page n, clamped to the valid range.
func (s *Store) SetPage(n int) Page {
	return *s.mutate(func() Event {
		s.page = clampPage(n, TotalPages(s.working, s.pageSize))
		page := s.pageLocked()
		return Event{Type: EventPageChanged, Page: &page}
	}).Page
}

// SetBusy toggles the user-visible refresh indicator.
func (s *Store) SetBusy(busy bool) {
	s.mutate(func() Event {
		s.busy = busy
		return Event{Type: EventBusyChanged, Busy: busy}
	})
}

// Select makes the record with id the inspected one, replacing any earlier
// selection. The stored record is a copy and is not touched by later fetches.
func (s *Store) Select(id string) (models.MarketRecord, error) {
	var (
		found models.MarketRecord
		ok    bool
	)
	s.mu.RLock()
	for _, r := range s.working {
		if r.ID == id {
			found, ok = r, true
			break
		}
	}
	s.mu.RUnlock()
	if !ok {
		return models.MarketRecord{}, fmt.Errorf("%w: %s", models.ErrRecordNotFound, id)
	}

	s.mutate(func() Event {
		rec := found
		s.selected = &rec
		return Event{Type: EventSelectionChanged, Selection: &rec, Visible: true}
	})
	return found, nil
}

// Deselect clears the selection and signals the detail view to close.
func (s *Store) Deselect() {
	s.mutate(func() Event {
		s.selected = nil
		return Event{Type: EventSelectionChanged, Visible: false}
	})
}

// View returns the current page of the working dataset.
func (s *Store) View() Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageLocked()
}

// Records returns a copy of the whole working dataset.
func (s *Store) Records() []models.MarketRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneRecords(s.working)
}

// SortKey reports the active sort key.
func (s *Store) SortKey() models.SortKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortKey
}

// SearchResults filters the working dataset by name.
func (s *Store) SearchResults(query string) SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := SearchResult{Query: query, Records: []models.MarketRecord{}}
	if isBlank(query) {
		return res
	}
	res.Active = true
	res.Records = Search(s.working, query)
	return res
}

// Selected returns the inspected record, if any.
func (s *Store) Selected() (models.MarketRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return models.MarketRecord{}, false
	}
	return *s.selected, true
}

// Notices returns raised notices, oldest first.
func (s *Store) Notices() []models.Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notice, len(s.notices))
	copy(out, s.notices)
	return out
}

// Subscribe registers fn for every subsequent event. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) mutate(fn func() Event) Event {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	ev := fn()
	s.mu.Unlock()

	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.dispatch(ev)
	return ev
}

func (s *Store) dispatch(ev Event) {
	s.subMu.RLock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

func (s *Store) pageLocked() Page {
	return Page{
		Records:      Paginate(s.working, s.page, s.pageSize),
		Page:         s.page,
		TotalPages:   TotalPages(s.working, s.pageSize),
		PageSize:     s.pageSize,
		TotalRecords: len(s.working),
		SortKey:      s.sortKey,
		Busy:         s.busy,
		Source:       s.source,
		CycleID:      s.cycleID,
		UpdatedAt:    s.updatedAt,
	}
}
