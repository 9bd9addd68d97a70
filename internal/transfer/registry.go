package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// EventKind classifies a registry change notification.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// Event is published on every successful registry mutation. It carries a
// snapshot of the record so consumers never observe later mutation.
type Event struct {
	Kind   EventKind
	Record Record
}

// Patch is a partial update merged into an existing record. Nil fields are
// left untouched. AddBytes increments the byte counter instead of replacing
// it, which is what streaming progress updates use.
type Patch struct {
	Status        *Status
	BytesReceived *int64
	AddBytes      int64
	TotalBytes    *int64
	ResumePolicy  *ResumePolicy
	ErrorMessage  *string
}

// Counts are aggregate tallies over the registry, insertion-order agnostic.
type Counts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
}

// Registry is the single source of truth for transfer state. All mutation is
// routed through Create/Update/Remove; concurrent fetchers and the scheduler
// interleave safely behind its lock and update ordering per record is the
// call ordering.
type Registry struct {
	mu      sync.Mutex
	nextID  int64
	order   []int64
	records map[int64]*Record
	events  chan Event
	dropped int64

	now func() time.Time
}

// NewRegistry creates an empty registry. eventBuffer bounds the change
// notification channel; publishing never blocks a mutation, events beyond
// the buffer are dropped and counted.
func NewRegistry(eventBuffer int) *Registry {
	if eventBuffer <= 0 {
		eventBuffer = 128
	}

	return &Registry{
		records: make(map[int64]*Record),
		events:  make(chan Event, eventBuffer),
		now:     time.Now,
	}
}

// Events exposes the change notification stream consumed by UI, history and
// notification collaborators.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// DroppedEvents reports how many notifications were discarded because no
// consumer kept up with the buffer.
func (r *Registry) DroppedEvents() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dropped
}

// Create inserts a pending record with a fresh monotonically assigned id.
// It never fails.
func (r *Registry) Create(sourceURL, displayName string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++

	if displayName == "" {
		displayName = fmt.Sprintf("transfer-%d", r.nextID)
	}

	rec := &Record{
		ID:          r.nextID,
		SourceURL:   sourceURL,
		DisplayName: displayName,
		Status:      StatusPending,
		Protocol:    ProtocolLabel(sourceURL),
		StartedAt:   r.now(),
	}

	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)

	snapshot := *rec
	r.publish(Event{Kind: EventCreated, Record: snapshot})

	return snapshot
}

// Get returns a snapshot of the record with the given id.
func (r *Registry) Get(id int64) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, &NotFoundError{Kind: "transfer", ID: id}
	}

	return *rec, nil
}

// Update merges the patch into the record and recomputes the derived fields
// (progress, speed, ETA). Unknown ids return NotFoundError and publish
// nothing, which is what makes late progress events after a cancel inert.
// Backward status transitions are rejected with ValidationError.
func (r *Registry) Update(id int64, patch Patch) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, &NotFoundError{Kind: "transfer", ID: id}
	}

	if patch.Status != nil && !rec.Status.CanTransition(*patch.Status) {
		return Record{}, &ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot transition from %s to %s", rec.Status, *patch.Status),
		}
	}

	if patch.Status != nil {
		rec.Status = *patch.Status
	}

	if patch.TotalBytes != nil {
		rec.TotalBytes = *patch.TotalBytes
	}

	if patch.BytesReceived != nil {
		rec.BytesReceived = *patch.BytesReceived
	}

	rec.BytesReceived += patch.AddBytes

	if rec.BytesReceived < 0 {
		rec.BytesReceived = 0
	}

	// Received bytes never exceed a known total.
	if rec.SizeKnown() && rec.BytesReceived > rec.TotalBytes {
		rec.BytesReceived = rec.TotalBytes
	}

	if patch.ResumePolicy != nil {
		rec.ResumePolicy = *patch.ResumePolicy
	}

	if patch.ErrorMessage != nil {
		rec.ErrorMessage = *patch.ErrorMessage
	}

	r.recompute(rec)

	snapshot := *rec
	r.publish(Event{Kind: EventUpdated, Record: snapshot})

	return snapshot, nil
}

// Remove deletes the record. It is idempotent; removing an unknown id is a
// no-op and publishes nothing.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}

	snapshot := *rec

	delete(r.records, id)

	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}

	r.publish(Event{Kind: EventRemoved, Record: snapshot})
}

// List returns snapshots of all records in insertion order.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}

	return out
}

// Counts derives aggregate tallies for display.
func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c Counts

	c.Total = len(r.order)

	for _, rec := range r.records {
		switch rec.Status {
		case StatusPending, StatusDownloading:
			c.Active++
		case StatusPaused:
			c.Paused++
		case StatusCompleted:
			c.Completed++
		case StatusError:
			c.Errored++
		}
	}

	return c
}

// Export writes the full registry as a JSON array, used for backup and
// inspection.
func (r *Registry) Export(w io.Writer) error {
	records := r.List()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	return nil
}

// ExportFilename returns the conventional backup file name.
func (r *Registry) ExportFilename() string {
	return fmt.Sprintf("download-history-%d.json", r.now().Unix())
}

// Import appends a JSON array of records to the registry. Ids are
// regenerated; source URL, name, status and byte counters are preserved.
// A malformed payload is rejected wholesale: nothing is appended.
func (r *Registry) Import(reader io.Reader) (int, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, &ValidationError{Field: "import", Reason: "unreadable payload", Err: err}
	}

	var incoming []Record
	if err := json.Unmarshal(data, &incoming); err != nil {
		return 0, &ValidationError{Field: "import", Reason: "malformed JSON array", Err: err}
	}

	for i := range incoming {
		if incoming[i].SourceURL == "" {
			return 0, &ValidationError{
				Field:  "import",
				Reason: fmt.Sprintf("record %d is missing source_url", i),
			}
		}

		if incoming[i].Status == "" {
			incoming[i].Status = StatusPending
		}

		if !incoming[i].Status.Valid() {
			return 0, &ValidationError{
				Field:  "import",
				Reason: fmt.Sprintf("record %d has unknown status %q", i, incoming[i].Status),
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range incoming {
		r.nextID++

		rec := incoming[i]
		rec.ID = r.nextID
		rec.Protocol = ProtocolLabel(rec.SourceURL)

		if rec.StartedAt.IsZero() {
			rec.StartedAt = r.now()
		}

		r.recompute(&rec)

		stored := rec
		r.records[stored.ID] = &stored
		r.order = append(r.order, stored.ID)

		r.publish(Event{Kind: EventCreated, Record: stored})
	}

	return len(incoming), nil
}

// recompute refreshes the derived fields. Completed records always read
// 100%; the estimator handles zero elapsed time and unknown totals.
func (r *Registry) recompute(rec *Record) {
	if rec.Status == StatusCompleted {
		rec.Progress = 100
		rec.SpeedBPS = 0
		rec.ETASeconds = 0
		rec.ETAKnown = false

		return
	}

	rec.Progress = ProgressPercent(rec.BytesReceived, rec.TotalBytes)

	rate := EstimateRate(rec.BytesReceived, r.now().Sub(rec.StartedAt), rec.TotalBytes)
	rec.SpeedBPS = rate.SpeedBPS
	rec.ETASeconds = rate.ETASeconds
	rec.ETAKnown = rate.ETAKnown
}

// publish must be called with the lock held. It never blocks: the registry
// is mutated from the scheduler and from in-flight transfers and a slow
// notification consumer must not stall them.
func (r *Registry) publish(evt Event) {
	select {
	case r.events <- evt:
	default:
		r.dropped++
	}
}
