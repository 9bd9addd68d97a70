package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/glorisonglotech/omnibiz-transferd/internal/logctx"
	"github.com/glorisonglotech/omnibiz-transferd/internal/transfer"
)

const (
	// DefaultTick is how often the schedule is scanned.
	DefaultTick = 5 * time.Second
	// DefaultTolerance is the slack within which an entry counts as due.
	DefaultTolerance = 5 * time.Second
	// DefaultGrace is how long a fired entry lingers before leaving the
	// active list.
	DefaultGrace = 3 * time.Second

	eventBuffer = 16
)

// Status is the lifecycle state of a scheduled entry.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusStarted   Status = "started"
	// StatusExpired marks an entry whose window was missed, e.g. while the
	// process was suspended. Expired entries are never silently retried;
	// triggering is best-effort by design.
	StatusExpired Status = "expired"
)

// Entry is a user-declared future transfer request awaiting its trigger
// time. Entries transition scheduled → started exactly once and are
// otherwise never mutated.
type Entry struct {
	ID          int64     `json:"id"`
	SourceURL   string    `json:"source_url"`
	DisplayName string    `json:"display_name"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      Status    `json:"status"`

	firedAt time.Time
}

// Starter instantiates a new transfer for a due entry. It is implemented by
// glue over the transfer registry and the fetcher; the scheduler only reads
// the registry through it and never mutates existing records.
type Starter interface {
	StartTransfer(ctx context.Context, sourceURL, displayName string) (int64, error)
}

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context, sourceURL, displayName string) (int64, error)

func (f StarterFunc) StartTransfer(ctx context.Context, sourceURL, displayName string) (int64, error) {
	return f(ctx, sourceURL, displayName)
}

// Scheduler owns the ordered list of scheduled entries and fires them when
// their window arrives. Triggering depends on a live tick: an entry whose
// window elapses while no tick runs is marked expired, not retried.
type Scheduler struct {
	clock     Clock
	starter   Starter
	tick      time.Duration
	tolerance time.Duration
	grace     time.Duration

	mu      sync.Mutex
	nextID  int64
	entries []*Entry

	OnStarted chan Entry
	OnExpired chan Entry
}

// New creates a scheduler. Zero durations fall back to the defaults.
func New(clock Clock, starter Starter, tick, tolerance, grace time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	if grace <= 0 {
		grace = DefaultGrace
	}

	return &Scheduler{
		clock:     clock,
		starter:   starter,
		tick:      tick,
		tolerance: tolerance,
		grace:     grace,
		OnStarted: make(chan Entry, eventBuffer),
		OnExpired: make(chan Entry, eventBuffer),
	}
}

// Close releases the event channels. Call only after Run has returned.
func (s *Scheduler) Close() {
	close(s.OnStarted)
	close(s.OnExpired)
}

// Add schedules a future transfer. Times not strictly in the future are
// rejected and no entry is created.
func (s *Scheduler) Add(sourceURL, displayName string, scheduledAt time.Time) (Entry, error) {
	if sourceURL == "" {
		return Entry{}, &transfer.ValidationError{Field: "url", Reason: "must not be empty"}
	}

	if !scheduledAt.After(s.clock.Now()) {
		return Entry{}, &transfer.ValidationError{
			Field:  "scheduled_at",
			Reason: "must be strictly in the future",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++

	entry := &Entry{
		ID:          s.nextID,
		SourceURL:   sourceURL,
		DisplayName: displayName,
		ScheduledAt: scheduledAt,
		Status:      StatusScheduled,
	}

	s.entries = append(s.entries, entry)

	return *entry, nil
}

// List returns snapshots of the active schedule in insertion order.
func (s *Scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}

	return out
}

// Remove deletes an entry that has not fired yet. It is idempotent.
func (s *Scheduler) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)

			return
		}
	}
}

// Run drives the tick loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := s.clock.NewTicker(s.tick)
	defer ticker.Stop()

	logger.Info("scheduler running", "tick", s.tick.String(), "tolerance", s.tolerance.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler shutting down")

			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep scans the schedule once. Due entries fire in FIFO order; a failure
// to start one entry never halts the rest of the scan. Entries that fired
// (or expired) longer than the grace period ago leave the list.
func (s *Scheduler) Sweep(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)
	now := s.clock.Now()

	s.mu.Lock()
	pending := make([]*Entry, len(s.entries))
	copy(pending, s.entries)
	s.mu.Unlock()

	var fired, expired []Entry

	for _, e := range pending {
		s.mu.Lock()

		switch {
		case e.Status != StatusScheduled:
			// Already fired or expired; only grace removal applies.
		case absDuration(e.ScheduledAt.Sub(now)) <= s.tolerance:
			e.Status = StatusStarted
			e.firedAt = now
			fired = append(fired, *e)
		case now.Sub(e.ScheduledAt) > s.tolerance:
			// Window missed, e.g. the process was suspended across it.
			e.Status = StatusExpired
			e.firedAt = now
			expired = append(expired, *e)
		}

		s.mu.Unlock()
	}

	for _, entry := range fired {
		id, err := s.starter.StartTransfer(ctx, entry.SourceURL, entry.DisplayName)
		if err != nil {
			logger.Error("failed to start scheduled transfer",
				"schedule_id", entry.ID,
				"url", entry.SourceURL,
				"err", err,
			)

			continue
		}

		logger.Info("scheduled transfer started",
			"schedule_id", entry.ID,
			"transfer_id", id,
			"url", entry.SourceURL,
		)

		s.emit(s.OnStarted, entry)
	}

	for _, entry := range expired {
		logger.Warn("scheduled transfer missed its window",
			"schedule_id", entry.ID,
			"scheduled_at", entry.ScheduledAt,
		)

		s.emit(s.OnExpired, entry)
	}

	s.removeAged(now)
}

func (s *Scheduler) removeAged(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]

	for _, e := range s.entries {
		if e.Status != StatusScheduled && now.Sub(e.firedAt) >= s.grace {
			continue
		}

		kept = append(kept, e)
	}

	s.entries = kept
}

// emit never blocks the sweep on a slow event consumer.
func (s *Scheduler) emit(ch chan Entry, entry Entry) {
	select {
	case ch <- entry:
	default:
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}
