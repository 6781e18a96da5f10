package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coinview/internal/metrics"
	"coinview/internal/view"
	"coinview/logger"
	"coinview/models"
	"coinview/reader"
)

// ErrRefreshInProgress is returned to a manual caller whose trigger was
// dropped because another fetch was still running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Trigger names what started a fetch.
type Trigger string

const (
	TriggerInitial Trigger = "initial"
	TriggerTimer   Trigger = "timer"
	TriggerManual  Trigger = "manual"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultFetchTimeout = 15 * time.Second
)

// Sink receives every successfully applied snapshot. Submit must not block.
type Sink interface {
	Submit(snap models.Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(models.Snapshot)

func (f SinkFunc) Submit(snap models.Snapshot) { f(snap) }

type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Log          *logger.Log
	Now          func() time.Time
}

// Scheduler keeps the store fed from a source: once on start, then on a
// fixed interval, and whenever Refresh is called. At most one fetch is in
// flight; triggers that arrive meanwhile are dropped.
type Scheduler struct {
	source   reader.Source
	store    *view.Store
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *logger.Log

	inFlight atomic.Bool
	busy     atomic.Bool

	mu      sync.RWMutex
	running bool
	runCtx  context.Context
	sinks   []Sink
}

func New(source reader.Source, store *view.Store, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Log == nil {
		opts.Log = logger.GetLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		source:   source,
		store:    store,
		interval: opts.Interval,
		timeout:  opts.FetchTimeout,
		now:      opts.Now,
		log:      opts.Log,
	}
}

// AddSink registers sink for successful snapshots.
func (s *Scheduler) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// Busy reports whether a manual refresh is running. Initial and timer
// fetches never set it.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Fetching reports whether any fetch is in flight.
func (s *Scheduler) Fetching() bool {
	return s.inFlight.Load()
}

// Run fetches immediately, then once per interval measured from the start
// until ctx ends. Ticks missed while a fetch runs are skipped.
// Cancelling ctx also cancels a fetch in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.runCtx = ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.runCtx = nil
		s.mu.Unlock()
	}()

	log := s.log.WithComponent("refresh_scheduler").WithFields(logger.Fields{
		"source":   s.source.Name(),
		"interval": s.interval.String(),
	})
	log.Info("starting refresh scheduler")

	_ = s.fetch(ctx, ctx, TriggerInitial)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("refresh scheduler stopped")
			return nil
		case <-ticker.C:
			start := time.Now()
			_ = s.fetch(ctx, ctx, TriggerTimer)

			if d := time.Since(start); d > s.interval {
				log.WithFields(logger.Fields{"duration_ms": d.Milliseconds()}).Warn("fetch took longer than interval")
			}
		}
	}
}

// Refresh runs a manual fetch and waits for it. It returns
// ErrRefreshInProgress when another fetch is already running, and the fetch
// error otherwise. The user-visible busy indicator is set for the duration.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.RLock()
	runCtx := s.runCtx
	s.mu.RUnlock()
	if runCtx == nil {
		runCtx = context.Background()
	}
	return s.fetch(ctx, runCtx, TriggerManual)
}

// fetch runs one cycle. The fetch context ends with either ctx or lifetime.
func (s *Scheduler) fetch(ctx, lifetime context.Context, trigger Trigger) error {
	log := s.log.WithComponent("refresh_scheduler").WithFields(logger.Fields{
		"source":  s.source.Name(),
		"trigger": string(trigger),
	})

	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.ReportRefreshDropped(s.log, string(trigger))
		log.Debug("fetch in flight, dropping trigger")
		return ErrRefreshInProgress
	}
	defer s.inFlight.Store(false)

	if trigger == TriggerManual {
		s.busy.Store(true)
		s.store.SetBusy(true)
		defer func() {
			s.busy.Store(false)
			s.store.SetBusy(false)
		}()
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(lifetime, cancel)
	defer stop()

	cycleID := uuid.NewString()
	log = log.WithFields(logger.Fields{"cycle_id": cycleID})

	start := time.Now()
	records, err := s.source.Fetch(fetchCtx)
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() != nil || lifetime.Err() != nil {
			log.WithError(err).Debug("fetch cancelled")
			return err
		}
		notice := s.store.RecordFailure(err)
		metrics.ReportFetchError(s.log, s.source.Name(), string(notice.Kind), duration)
		log.WithError(err).WithFields(logger.Fields{"notice": string(notice.Kind)}).Warn("fetch failed, keeping last snapshot")
		return err
	}

	snap := models.Snapshot{
		CycleID:   cycleID,
		Source:    s.source.Name(),
		FetchedAt: s.now(),
		Records:   records,
	}
	s.store.ApplySnapshot(snap)

	metrics.ReportFetchSuccess(s.log, snap.Source, len(records), duration)
	logger.LogPerformanceEntry(log, "refresh_scheduler", "fetch_cycle", duration, logger.Fields{
		"records": len(records),
	})

	s.mu.RLock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.RUnlock()
	for _, sink := range sinks {
		sink.Submit(snap)
	}
	return nil
}
