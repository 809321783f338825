// Package lifecycle tracks every document's walk through the processing
// state machine. Transitions are validated against the fixed forward order,
// emitted to a sink as structured timestamped events, and aggregated into
// the counters the admission queue and operators watch.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablewise/invoice-pipeline/constants"
)

// Event is one state transition.
type Event struct {
	DocumentID uuid.UUID                 `json:"document_id"`
	From       constants.ProcessingState `json:"from"`
	To         constants.ProcessingState `json:"to"`
	At         time.Time                 `json:"at"`
	// Cause is set only when To is Error.
	Cause constants.FailureCause `json:"cause,omitempty"`
	// Metrics carries the salient numbers of the completed stage, for
	// example confidence or item count.
	Metrics map[string]any `json:"metrics,omitempty"`
}

// Sink receives transition events. Implementations must not block; the
// tracker calls Emit while holding no locks but inside the pipeline's hot
// path.
type Sink interface {
	Emit(Event)
}

// Status is the read-only view of one document.
type Status struct {
	State     constants.ProcessingState `json:"state"`
	UpdatedAt time.Time                 `json:"updated_at"`
	Cause     constants.FailureCause    `json:"cause,omitempty"`
	// Metrics holds the terminal metrics once the document is Ready or
	// Error; intermediate stages overwrite it.
	Metrics map[string]any `json:"metrics,omitempty"`
}

// Counters exposes queue depth and slot usage for external monitoring.
type Counters struct {
	Queued  int `json:"queued"`
	Active  int `json:"active"`
	Ready   int `json:"ready"`
	Errored int `json:"errored"`
}

// Tracker owns the per-document state map. All methods are safe for
// concurrent use.
type Tracker struct {
	mu   sync.Mutex
	docs map[uuid.UUID]Status
	sink Sink
}

func NewTracker(sink Sink) *Tracker {
	return &Tracker{docs: make(map[uuid.UUID]Status), sink: sink}
}

// Enqueue registers a new document at Enqueued, or re-enters a document
// whose previous run ended in Error. Re-enqueue from any other state is
// rejected so a running document cannot be restarted underneath its worker.
func (t *Tracker) Enqueue(id uuid.UUID) error {
	t.mu.Lock()
	prev, exists := t.docs[id]
	if exists && prev.State != constants.StateError {
		t.mu.Unlock()
		return fmt.Errorf("document %s is %s, only Error can be re-enqueued", id, prev.State)
	}
	now := time.Now().UTC()
	t.docs[id] = Status{State: constants.StateEnqueued, UpdatedAt: now}
	t.mu.Unlock()

	from := constants.StateError
	if !exists {
		from = ""
	}
	t.emit(Event{DocumentID: id, From: from, To: constants.StateEnqueued, At: now})
	return nil
}

// Transition advances the document forward. Regressions and transitions out
// of a terminal state are rejected.
func (t *Tracker) Transition(id uuid.UUID, to constants.ProcessingState, metrics map[string]any) error {
	t.mu.Lock()
	cur, ok := t.docs[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("document %s is not tracked", id)
	}
	if !constants.CanTransition(cur.State, to) {
		t.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s for document %s", cur.State, to, id)
	}
	now := time.Now().UTC()
	t.docs[id] = Status{State: to, UpdatedAt: now, Metrics: metrics}
	t.mu.Unlock()

	t.emit(Event{DocumentID: id, From: cur.State, To: to, At: now, Metrics: metrics})
	return nil
}

// Fail moves the document to Error with a categorized cause. Legal from any
// non-terminal state; a document already in a terminal state is left alone.
func (t *Tracker) Fail(id uuid.UUID, cause constants.FailureCause, metrics map[string]any) error {
	t.mu.Lock()
	cur, ok := t.docs[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("document %s is not tracked", id)
	}
	if cur.State.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("document %s is already %s", id, cur.State)
	}
	now := time.Now().UTC()
	t.docs[id] = Status{State: constants.StateError, UpdatedAt: now, Cause: cause, Metrics: metrics}
	t.mu.Unlock()

	t.emit(Event{DocumentID: id, From: cur.State, To: constants.StateError, At: now, Cause: cause, Metrics: metrics})
	return nil
}

// Status returns the current view of one document.
func (t *Tracker) Status(id uuid.UUID) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.docs[id]
	return s, ok
}

// Counters tallies documents by lifecycle phase.
func (t *Tracker) Counters() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	var c Counters
	for _, s := range t.docs {
		switch {
		case s.State == constants.StateEnqueued:
			c.Queued++
		case s.State == constants.StateReady:
			c.Ready++
		case s.State == constants.StateError:
			c.Errored++
		default:
			c.Active++
		}
	}
	return c
}

func (t *Tracker) emit(ev Event) {
	if t.sink != nil {
		t.sink.Emit(ev)
	}
}
